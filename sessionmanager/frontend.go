package sessionmanager

import (
	"context"

	"github.com/google/uuid"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/k82cn/flame/model"
	"github.com/k82cn/flame/pkg/errors"
	flamev1 "github.com/k82cn/flame/rpc/flame/v1"
	"github.com/k82cn/flame/storage"
)

// frontendService is the client-facing RPC surface. Validation failures are
// returned verbatim; storage failures are surfaced without retry.
type frontendService struct {
	storage     *storage.Storage
	scheduler   trigger
	defaultSlot int
	defaultShim string
}

type trigger interface {
	Trigger()
}

var _ flamev1.FrontendServer = &frontendService{}

func newFrontendService(store *storage.Storage, sched trigger, defaultSlot int, defaultShim string) *frontendService {
	return &frontendService{
		storage:     store,
		scheduler:   sched,
		defaultSlot: defaultSlot,
		defaultShim: defaultShim,
	}
}

func (f *frontendService) RegisterApplication(
	ctx context.Context, req *flamev1.RegisterApplicationRequest,
) (*flamev1.Empty, error) {
	if req.Name == "" {
		return nil, errors.ToGRPCError(
			errors.ErrInvalidArgument.GenWithStackByArgs("application name is required"))
	}
	if req.Spec == nil {
		return nil, errors.ToGRPCError(
			errors.ErrInvalidArgument.GenWithStackByArgs("application spec is required"))
	}
	if req.Spec.Shim == "" {
		req.Spec.Shim = f.defaultShim
	}
	attr := model.ApplicationAttributesFromPB(req.Spec)
	if err := f.storage.RegisterApplication(ctx, req.Name, attr); err != nil {
		return nil, errors.ToGRPCError(err)
	}
	log.L().Info("application registered", zap.String("application", req.Name))
	return &flamev1.Empty{}, nil
}

func (f *frontendService) UnregisterApplication(
	ctx context.Context, req *flamev1.UnregisterApplicationRequest,
) (*flamev1.Empty, error) {
	if err := f.storage.UnregisterApplication(ctx, req.Name); err != nil {
		return nil, errors.ToGRPCError(err)
	}
	log.L().Info("application unregistered", zap.String("application", req.Name))
	return &flamev1.Empty{}, nil
}

func (f *frontendService) UpdateApplication(
	ctx context.Context, req *flamev1.UpdateApplicationRequest,
) (*flamev1.Empty, error) {
	if req.Spec == nil {
		return nil, errors.ToGRPCError(
			errors.ErrInvalidArgument.GenWithStackByArgs("application spec is required"))
	}
	attr := model.ApplicationAttributesFromPB(req.Spec)
	err := f.storage.UpdateApplication(ctx, req.Name, attr, model.ApplicationState(req.State))
	if err != nil {
		return nil, errors.ToGRPCError(err)
	}
	return &flamev1.Empty{}, nil
}

func (f *frontendService) GetApplication(
	ctx context.Context, req *flamev1.GetApplicationRequest,
) (*flamev1.Application, error) {
	app, err := f.storage.GetApplication(ctx, req.Name)
	if err != nil {
		return nil, errors.ToGRPCError(err)
	}
	return app.ToPB(), nil
}

func (f *frontendService) ListApplications(
	ctx context.Context, _ *flamev1.ListApplicationsRequest,
) (*flamev1.ListApplicationsResponse, error) {
	apps, err := f.storage.ListApplications(ctx)
	if err != nil {
		return nil, errors.ToGRPCError(err)
	}
	resp := &flamev1.ListApplicationsResponse{}
	for _, app := range apps {
		resp.Applications = append(resp.Applications, app.ToPB())
	}
	return resp, nil
}

func (f *frontendService) sessionSpec(spec *flamev1.SessionSpec) model.SessionSpec {
	s := model.SessionSpecFromPB(spec)
	if s.Slots <= 0 {
		s.Slots = f.defaultSlot
	}
	return s
}

func (f *frontendService) CreateSession(
	ctx context.Context, req *flamev1.CreateSessionRequest,
) (*flamev1.Session, error) {
	if req.Spec == nil {
		return nil, errors.ToGRPCError(
			errors.ErrInvalidArgument.GenWithStackByArgs("session spec is required"))
	}
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	ssn, err := f.storage.CreateSession(ctx, id, f.sessionSpec(req.Spec))
	if err != nil {
		return nil, errors.ToGRPCError(err)
	}

	f.scheduler.Trigger()
	log.L().Info("session created",
		zap.String("session", ssn.ID),
		zap.String("application", ssn.Application))
	return ssn.ToPB(), nil
}

func (f *frontendService) OpenSession(
	ctx context.Context, req *flamev1.OpenSessionRequest,
) (*flamev1.Session, error) {
	if req.SessionID == "" {
		return nil, errors.ToGRPCError(
			errors.ErrInvalidArgument.GenWithStackByArgs("session id is required"))
	}

	var spec *model.SessionSpec
	if req.Spec != nil {
		s := f.sessionSpec(req.Spec)
		spec = &s
	}

	ssn, err := f.storage.OpenSession(ctx, req.SessionID, spec)
	if err != nil {
		return nil, errors.ToGRPCError(err)
	}

	f.scheduler.Trigger()
	return ssn.ToPB(), nil
}

func (f *frontendService) CloseSession(
	ctx context.Context, req *flamev1.CloseSessionRequest,
) (*flamev1.Session, error) {
	ssn, err := f.storage.CloseSession(ctx, req.SessionID)
	if err != nil {
		return nil, errors.ToGRPCError(err)
	}

	f.scheduler.Trigger()
	log.L().Info("session closed", zap.String("session", ssn.ID))
	return ssn.ToPB(), nil
}

func (f *frontendService) DeleteSession(
	ctx context.Context, req *flamev1.DeleteSessionRequest,
) (*flamev1.Session, error) {
	ssn, err := f.storage.DeleteSession(ctx, req.SessionID)
	if err != nil {
		return nil, errors.ToGRPCError(err)
	}
	return ssn.ToPB(), nil
}

func (f *frontendService) GetSession(
	ctx context.Context, req *flamev1.GetSessionRequest,
) (*flamev1.Session, error) {
	ssn, err := f.storage.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, errors.ToGRPCError(err)
	}
	return ssn.ToPB(), nil
}

func (f *frontendService) ListSessions(
	ctx context.Context, _ *flamev1.ListSessionsRequest,
) (*flamev1.ListSessionsResponse, error) {
	ssns, err := f.storage.ListSessions(ctx)
	if err != nil {
		return nil, errors.ToGRPCError(err)
	}
	resp := &flamev1.ListSessionsResponse{}
	for _, ssn := range ssns {
		resp.Sessions = append(resp.Sessions, ssn.ToPB())
	}
	return resp, nil
}

func (f *frontendService) CreateTask(
	ctx context.Context, req *flamev1.CreateTaskRequest,
) (*flamev1.Task, error) {
	var input []byte
	if req.HasInput {
		input = req.Input
		if input == nil {
			input = []byte{}
		}
	}

	task, err := f.storage.CreateTask(ctx, req.SessionID, input)
	if err != nil {
		return nil, errors.ToGRPCError(err)
	}

	f.scheduler.Trigger()
	return task.ToPB(), nil
}

func (f *frontendService) GetTask(
	ctx context.Context, req *flamev1.GetTaskRequest,
) (*flamev1.Task, error) {
	task, err := f.storage.GetTask(ctx,
		model.TaskGID{SessionID: req.SessionID, TaskID: req.TaskID})
	if err != nil {
		return nil, errors.ToGRPCError(err)
	}
	return task.ToPB(), nil
}

func (f *frontendService) ListTasks(
	ctx context.Context, req *flamev1.ListTasksRequest,
) (*flamev1.ListTasksResponse, error) {
	states := make([]model.TaskState, 0, len(req.States))
	for _, s := range req.States {
		states = append(states, model.TaskState(s))
	}
	tasks, err := f.storage.ListTasks(ctx, req.SessionID, states...)
	if err != nil {
		return nil, errors.ToGRPCError(err)
	}
	resp := &flamev1.ListTasksResponse{}
	for _, task := range tasks {
		resp.Tasks = append(resp.Tasks, task.ToPB())
	}
	return resp, nil
}

// WatchTask streams task snapshots until the task is terminal. Snapshots are
// monotone in state; duplicates for an already-observed state are collapsed.
func (f *frontendService) WatchTask(
	req *flamev1.WatchTaskRequest, stream flamev1.Frontend_WatchTaskServer,
) error {
	gid := model.TaskGID{SessionID: req.SessionID, TaskID: req.TaskID}

	if _, err := f.storage.GetSession(stream.Context(), gid.SessionID); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return errors.ToGRPCError(errors.ErrInvalidState.GenWithStackByArgs(
				"unknown session " + gid.SessionID))
		}
		return errors.ToGRPCError(err)
	}

	snapshot, receiver, err := f.storage.WatchTask(stream.Context(), gid)
	if err != nil {
		return errors.ToGRPCError(err)
	}
	if receiver != nil {
		defer receiver.Close()
	}

	if err := stream.Send(snapshot.ToPB()); err != nil {
		return err
	}
	last := snapshot.State
	if last.Terminal() || receiver == nil {
		return nil
	}

	for {
		select {
		case <-stream.Context().Done():
			return errors.ToGRPCError(
				errors.ErrCancelled.GenWithStackByArgs("watch cancelled"))
		case task, ok := <-receiver.C:
			if !ok {
				// Session evicted; the stream restarts on re-invocation.
				return nil
			}
			if task.ID != gid.TaskID || task.State < last {
				continue
			}
			if task.State == last && !task.State.Terminal() {
				continue
			}
			if err := stream.Send(task.ToPB()); err != nil {
				return err
			}
			last = task.State
			if last.Terminal() {
				return nil
			}
		}
	}
}
