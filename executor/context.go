package executor

import (
	flamev1 "github.com/k82cn/flame/rpc/flame/v1"
)

func sessionContext(app *flamev1.Application, ssn *flamev1.Session) *flamev1.SessionContext {
	return &flamev1.SessionContext{
		SessionID:   ssn.Metadata.ID,
		Application: app,
		Slots:       ssn.Spec.Slots,
		CommonData:  ssn.Spec.CommonData,
	}
}

func taskContext(task *flamev1.Task) *flamev1.TaskContext {
	return &flamev1.TaskContext{
		TaskID:    task.TaskID,
		SessionID: task.Spec.SessionID,
		Input:     task.Spec.Input,
		HasInput:  task.Spec.HasInput,
	}
}
