package engine

import (
	"encoding/json"
	"time"

	"github.com/k82cn/flame/model"
	"github.com/k82cn/flame/pkg/errors"
)

// DAO rows. Timestamps are unix milliseconds; blobs keep NULL distinct from
// empty so absent input/output survives a round-trip.

type applicationDao struct {
	Name             string `gorm:"column:name;primaryKey"`
	Shim             int    `gorm:"column:shim"`
	Image            string `gorm:"column:image"`
	URL              string `gorm:"column:url"`
	Command          string `gorm:"column:command"`
	Arguments        string `gorm:"column:arguments"`
	Environments     string `gorm:"column:environments"`
	WorkingDirectory string `gorm:"column:working_directory"`
	Description      string `gorm:"column:description"`
	Labels           string `gorm:"column:labels"`
	Schema           string `gorm:"column:schema"`
	MaxInstances     int    `gorm:"column:max_instances"`
	DelayReleaseMs   int64  `gorm:"column:delay_release"`
	CreationTime     int64  `gorm:"column:creation_time"`
	State            int    `gorm:"column:state"`
	Version          int64  `gorm:"column:version"`
}

func (applicationDao) TableName() string { return "applications" }

type sessionDao struct {
	ID             string `gorm:"column:id;primaryKey"`
	Application    string `gorm:"column:application;index"`
	Slots          int    `gorm:"column:slots"`
	CommonData     []byte `gorm:"column:common_data"`
	MinInstances   int    `gorm:"column:min_instances"`
	MaxInstances   int    `gorm:"column:max_instances"`
	Pending        int    `gorm:"column:pending"`
	Running        int    `gorm:"column:running"`
	Succeed        int    `gorm:"column:succeed"`
	Failed         int    `gorm:"column:failed"`
	CreationTime   int64  `gorm:"column:creation_time"`
	CompletionTime *int64 `gorm:"column:completion_time"`
	State          int    `gorm:"column:state"`
	Version        int64  `gorm:"column:version"`
}

func (sessionDao) TableName() string { return "sessions" }

type taskDao struct {
	ID             int64  `gorm:"column:id;primaryKey;autoIncrement:false"`
	SsnID          string `gorm:"column:ssn_id;primaryKey;index"`
	Input          []byte `gorm:"column:input"`
	Output         []byte `gorm:"column:output"`
	CreationTime   int64  `gorm:"column:creation_time"`
	CompletionTime *int64 `gorm:"column:completion_time"`
	State          int    `gorm:"column:state"`
	Version        int64  `gorm:"column:version"`
}

func (taskDao) TableName() string { return "tasks" }

type eventDao struct {
	ID           int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Owner        string `gorm:"column:owner;index:idx_events_owner,priority:1;index:idx_events_parent,priority:2"`
	Parent       string `gorm:"column:parent;index:idx_events_parent,priority:1"`
	Code         int    `gorm:"column:code"`
	Message      string `gorm:"column:message"`
	CreationTime int64  `gorm:"column:creation_time"`
}

func (eventDao) TableName() string { return "events" }

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func fromMillisPtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := fromMillis(*ms)
	return &t
}

func appToDao(name model.ApplicationID, attr model.ApplicationAttributes) (*applicationDao, error) {
	args, err := json.Marshal(attr.Arguments)
	if err != nil {
		return nil, errors.ErrStorage.Wrap(err).GenWithStackByArgs("marshal arguments")
	}
	envs, err := json.Marshal(attr.Environments)
	if err != nil {
		return nil, errors.ErrStorage.Wrap(err).GenWithStackByArgs("marshal environments")
	}
	labels, err := json.Marshal(attr.Labels)
	if err != nil {
		return nil, errors.ErrStorage.Wrap(err).GenWithStackByArgs("marshal labels")
	}
	schema := ""
	if attr.Schema != nil {
		raw, err := json.Marshal(attr.Schema)
		if err != nil {
			return nil, errors.ErrStorage.Wrap(err).GenWithStackByArgs("marshal schema")
		}
		schema = string(raw)
	}

	return &applicationDao{
		Name:             name,
		Shim:             int(attr.Shim),
		Image:            attr.Image,
		URL:              attr.URL,
		Command:          attr.Command,
		Arguments:        string(args),
		Environments:     string(envs),
		WorkingDirectory: attr.WorkingDirectory,
		Description:      attr.Description,
		Labels:           string(labels),
		Schema:           schema,
		MaxInstances:     attr.MaxInstances,
		DelayReleaseMs:   attr.DelayRelease.Milliseconds(),
	}, nil
}

func (d *applicationDao) toModel() (*model.Application, error) {
	app := &model.Application{
		Name: d.Name,
		ApplicationAttributes: model.ApplicationAttributes{
			Shim:             model.Shim(d.Shim),
			Image:            d.Image,
			URL:              d.URL,
			Command:          d.Command,
			WorkingDirectory: d.WorkingDirectory,
			Description:      d.Description,
			MaxInstances:     d.MaxInstances,
			DelayRelease:     time.Duration(d.DelayReleaseMs) * time.Millisecond,
		},
		State:        model.ApplicationState(d.State),
		CreationTime: fromMillis(d.CreationTime),
	}
	if d.Arguments != "" {
		if err := json.Unmarshal([]byte(d.Arguments), &app.Arguments); err != nil {
			return nil, errors.ErrStorage.Wrap(err).GenWithStackByArgs("unmarshal arguments")
		}
	}
	if d.Environments != "" {
		if err := json.Unmarshal([]byte(d.Environments), &app.Environments); err != nil {
			return nil, errors.ErrStorage.Wrap(err).GenWithStackByArgs("unmarshal environments")
		}
	}
	if d.Labels != "" {
		if err := json.Unmarshal([]byte(d.Labels), &app.Labels); err != nil {
			return nil, errors.ErrStorage.Wrap(err).GenWithStackByArgs("unmarshal labels")
		}
	}
	if d.Schema != "" {
		app.Schema = &model.ApplicationSchema{}
		if err := json.Unmarshal([]byte(d.Schema), app.Schema); err != nil {
			return nil, errors.ErrStorage.Wrap(err).GenWithStackByArgs("unmarshal schema")
		}
	}
	return app, nil
}

func (d *sessionDao) toModel() *model.Session {
	return &model.Session{
		ID: d.ID,
		SessionSpec: model.SessionSpec{
			Application:  d.Application,
			Slots:        d.Slots,
			CommonData:   d.CommonData,
			MinInstances: d.MinInstances,
			MaxInstances: d.MaxInstances,
		},
		Counters: model.TaskStatusCounters{
			Pending: d.Pending,
			Running: d.Running,
			Succeed: d.Succeed,
			Failed:  d.Failed,
		},
		State:          model.SessionState(d.State),
		CreationTime:   fromMillis(d.CreationTime),
		CompletionTime: fromMillisPtr(d.CompletionTime),
		Version:        d.Version,
	}
}

func (d *taskDao) toModel() *model.Task {
	return &model.Task{
		ID:             d.ID,
		SessionID:      d.SsnID,
		Input:          d.Input,
		Output:         d.Output,
		State:          model.TaskState(d.State),
		CreationTime:   fromMillis(d.CreationTime),
		CompletionTime: fromMillisPtr(d.CompletionTime),
		Version:        d.Version,
	}
}

func (d *eventDao) toModel() model.Event {
	return model.Event{
		Owner:        d.Owner,
		Parent:       d.Parent,
		Code:         d.Code,
		Message:      d.Message,
		CreationTime: fromMillis(d.CreationTime),
	}
}
