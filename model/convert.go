package model

import (
	"time"

	flamev1 "github.com/k82cn/flame/rpc/flame/v1"
)

func (a *Application) ToPB() *flamev1.Application {
	spec := &flamev1.ApplicationSpec{
		Shim:             a.Shim.String(),
		Image:            a.Image,
		URL:              a.URL,
		Command:          a.Command,
		Arguments:        a.Arguments,
		Environments:     a.Environments,
		WorkingDirectory: a.WorkingDirectory,
		Description:      a.Description,
		Labels:           a.Labels,
		MaxInstances:     int32(a.MaxInstances),
		DelayReleaseMs:   a.DelayRelease.Milliseconds(),
	}
	if a.Schema != nil {
		spec.InputSchema = a.Schema.Input
		spec.OutputSchema = a.Schema.Output
		spec.CommonDataSchema = a.Schema.CommonData
	}
	return &flamev1.Application{
		Metadata: &flamev1.Metadata{ID: a.Name, Name: a.Name},
		Spec:     spec,
		Status: &flamev1.ApplicationStatus{
			State:        int32(a.State),
			CreationTime: a.CreationTime.UnixMilli(),
		},
	}
}

func ApplicationAttributesFromPB(spec *flamev1.ApplicationSpec) ApplicationAttributes {
	attr := ApplicationAttributes{
		Shim:             ParseShim(spec.Shim),
		Image:            spec.Image,
		URL:              spec.URL,
		Command:          spec.Command,
		Arguments:        spec.Arguments,
		Environments:     spec.Environments,
		WorkingDirectory: spec.WorkingDirectory,
		Description:      spec.Description,
		Labels:           spec.Labels,
		MaxInstances:     int(spec.MaxInstances),
		DelayRelease:     time.Duration(spec.DelayReleaseMs) * time.Millisecond,
	}
	if spec.InputSchema != "" || spec.OutputSchema != "" || spec.CommonDataSchema != "" {
		attr.Schema = &ApplicationSchema{
			Input:      spec.InputSchema,
			Output:     spec.OutputSchema,
			CommonData: spec.CommonDataSchema,
		}
	}
	return attr
}

func (s *Session) ToPB() *flamev1.Session {
	status := &flamev1.SessionStatus{
		State:        int32(s.State),
		CreationTime: s.CreationTime.UnixMilli(),
		Pending:      int32(s.Counters.Pending),
		Running:      int32(s.Counters.Running),
		Succeed:      int32(s.Counters.Succeed),
		Failed:       int32(s.Counters.Failed),
	}
	if s.CompletionTime != nil {
		status.CompletionTime = s.CompletionTime.UnixMilli()
	}
	return &flamev1.Session{
		Metadata: &flamev1.Metadata{ID: s.ID},
		Spec: &flamev1.SessionSpec{
			Application:   s.Application,
			Slots:         int32(s.Slots),
			CommonData:    s.CommonData,
			HasCommonData: s.CommonData != nil,
			MinInstances:  int32(s.MinInstances),
			MaxInstances:  int32(s.MaxInstances),
		},
		Status: status,
	}
}

func SessionSpecFromPB(spec *flamev1.SessionSpec) SessionSpec {
	return SessionSpec{
		Application:  spec.Application,
		Slots:        int(spec.Slots),
		CommonData:   spec.CommonData,
		MinInstances: int(spec.MinInstances),
		MaxInstances: int(spec.MaxInstances),
	}
}

func (t *Task) ToPB() *flamev1.Task {
	status := &flamev1.TaskStatus{
		State:        int32(t.State),
		CreationTime: t.CreationTime.UnixMilli(),
	}
	if t.CompletionTime != nil {
		status.CompletionTime = t.CompletionTime.UnixMilli()
	}
	task := &flamev1.Task{
		Metadata: &flamev1.Metadata{ID: t.GID().String()},
		Spec: &flamev1.TaskSpec{
			SessionID: t.SessionID,
			Input:     t.Input,
			HasInput:  t.Input != nil,
		},
		Status:    status,
		TaskID:    t.ID,
		Output:    t.Output,
		HasOutput: t.Output != nil,
	}
	for i := range t.Events {
		task.Events = append(task.Events, t.Events[i].ToPB())
	}
	return task
}

func (e Event) ToPB() *flamev1.Event {
	return &flamev1.Event{
		Owner:        e.Owner,
		Parent:       e.Parent,
		Code:         int32(e.Code),
		Message:      e.Message,
		CreationTime: e.CreationTime.UnixMilli(),
	}
}

// SessionContextPB assembles the context handed to a binding executor.
func SessionContextPB(app *Application, ssn *Session) *flamev1.SessionContext {
	return &flamev1.SessionContext{
		SessionID:   ssn.ID,
		Application: app.ToPB(),
		Slots:       int32(ssn.Slots),
		CommonData:  ssn.CommonData,
	}
}

func (t *Task) ToContextPB() *flamev1.TaskContext {
	return &flamev1.TaskContext{
		TaskID:    t.ID,
		SessionID: t.SessionID,
		Input:     t.Input,
		HasInput:  t.Input != nil,
	}
}
