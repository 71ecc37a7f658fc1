package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/pingcap/log"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"

	"github.com/k82cn/flame/model"
	"github.com/k82cn/flame/pkg/errors"
)

// sqliteEngine keeps all durable state in a single sqlite database. WAL mode
// plus a busy timeout gives enough concurrency for the control plane's
// write rates; the connection pool is bounded to keep transactions short.
type sqliteEngine struct {
	db *gorm.DB
}

var _ Engine = &sqliteEngine{}

func newSqliteEngine(ctx context.Context, path string) (Engine, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=15000&_fk=1", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 glogger.Default.LogMode(glogger.Silent),
	})
	if err != nil {
		log.L().Error("open sqlite storage failed", zap.String("path", path), zap.Error(err))
		return nil, errors.ErrStorage.Wrap(err).GenWithStackByArgs("open sqlite")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.ErrStorage.Wrap(err).GenWithStackByArgs("sqlite pool")
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(3)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := db.WithContext(ctx).AutoMigrate(
		&applicationDao{}, &sessionDao{}, &taskDao{}, &eventDao{},
	); err != nil {
		return nil, errors.ErrStorage.Wrap(err).GenWithStackByArgs("migrate schema")
	}

	return &sqliteEngine{db: db}, nil
}

func (e *sqliteEngine) Close() error {
	sqlDB, err := e.db.DB()
	if err != nil {
		return errors.ErrStorage.Wrap(err).GenWithStackByArgs("sqlite pool")
	}
	return sqlDB.Close()
}

func storageErr(err error, op string) error {
	return errors.ErrStorage.Wrap(err).GenWithStackByArgs(op)
}

func (e *sqliteEngine) RegisterApplication(
	ctx context.Context, name model.ApplicationID, attr model.ApplicationAttributes,
) (*model.Application, error) {
	dao, err := appToDao(name, attr)
	if err != nil {
		return nil, err
	}
	dao.CreationTime = toMillis(time.Now())
	dao.State = int(model.AppEnabled)
	dao.Version = 1

	if err := e.db.WithContext(ctx).Create(dao).Error; err != nil {
		if errors.Cause(err) == gorm.ErrDuplicatedKey {
			return nil, errors.ErrInvalidArgument.GenWithStackByArgs(
				fmt.Sprintf("application <%s> already exists", name))
		}
		return nil, storageErr(err, "register application")
	}
	return dao.toModel()
}

func (e *sqliteEngine) UpdateApplication(
	ctx context.Context, name model.ApplicationID, attr model.ApplicationAttributes,
	state model.ApplicationState,
) (*model.Application, error) {
	var out *model.Application
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open int64
		if err := tx.Model(&sessionDao{}).
			Where("application = ? AND state = ?", name, int(model.SessionOpen)).
			Count(&open).Error; err != nil {
			return storageErr(err, "count open sessions")
		}
		if open > 0 {
			return errors.ErrInvalidState.GenWithStackByArgs(
				fmt.Sprintf("%d open sessions in application <%s>", open, name))
		}

		dao, err := appToDao(name, attr)
		if err != nil {
			return err
		}
		res := tx.Model(&applicationDao{}).Where("name = ?", name).Updates(map[string]interface{}{
			"shim":              dao.Shim,
			"image":             dao.Image,
			"url":               dao.URL,
			"command":           dao.Command,
			"arguments":         dao.Arguments,
			"environments":      dao.Environments,
			"working_directory": dao.WorkingDirectory,
			"description":       dao.Description,
			"labels":            dao.Labels,
			"schema":            dao.Schema,
			"max_instances":     dao.MaxInstances,
			"delay_release":     dao.DelayReleaseMs,
			"state":             int(state),
			"version":           gorm.Expr("version + 1"),
		})
		if res.Error != nil {
			return storageErr(res.Error, "update application")
		}
		if res.RowsAffected == 0 {
			return errors.ErrNotFound.GenWithStackByArgs(name)
		}

		var updated applicationDao
		if err := tx.First(&updated, "name = ?", name).Error; err != nil {
			return storageErr(err, "reload application")
		}
		out, err = updated.toModel()
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *sqliteEngine) UnregisterApplication(ctx context.Context, name model.ApplicationID) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var dao applicationDao
		if err := tx.First(&dao, "name = ?", name).Error; err != nil {
			if errors.Cause(err) == gorm.ErrRecordNotFound {
				return errors.ErrNotFound.GenWithStackByArgs(name)
			}
			return storageErr(err, "get application")
		}

		var open int64
		if err := tx.Model(&sessionDao{}).
			Where("application = ? AND state = ?", name, int(model.SessionOpen)).
			Count(&open).Error; err != nil {
			return storageErr(err, "count open sessions")
		}
		if open > 0 {
			return errors.ErrInvalidState.GenWithStackByArgs(
				fmt.Sprintf("%d open sessions in application <%s>", open, name))
		}

		var ids []string
		if err := tx.Model(&sessionDao{}).Where("application = ?", name).
			Pluck("id", &ids).Error; err != nil {
			return storageErr(err, "list session ids")
		}
		for _, id := range ids {
			if err := deleteSessionTx(tx, id); err != nil {
				return err
			}
		}

		if err := tx.Delete(&applicationDao{}, "name = ?", name).Error; err != nil {
			return storageErr(err, "delete application")
		}
		return nil
	})
}

func (e *sqliteEngine) GetApplication(ctx context.Context, name model.ApplicationID) (*model.Application, error) {
	var dao applicationDao
	if err := e.db.WithContext(ctx).First(&dao, "name = ?", name).Error; err != nil {
		if errors.Cause(err) == gorm.ErrRecordNotFound {
			return nil, errors.ErrNotFound.GenWithStackByArgs(name)
		}
		return nil, storageErr(err, "get application")
	}
	return dao.toModel()
}

func (e *sqliteEngine) ListApplications(ctx context.Context) ([]*model.Application, error) {
	var daos []applicationDao
	if err := e.db.WithContext(ctx).Order("name").Find(&daos).Error; err != nil {
		return nil, storageErr(err, "list applications")
	}
	apps := make([]*model.Application, 0, len(daos))
	for i := range daos {
		app, err := daos[i].toModel()
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, nil
}

// createSessionTx inserts a session row after checking the application is
// Enabled. Shared by CreateSession and OpenSession.
func createSessionTx(tx *gorm.DB, id model.SessionID, spec model.SessionSpec) (*sessionDao, error) {
	var app applicationDao
	if err := tx.First(&app, "name = ?", spec.Application).Error; err != nil {
		if errors.Cause(err) == gorm.ErrRecordNotFound {
			return nil, errors.ErrInvalidArgument.GenWithStackByArgs(
				fmt.Sprintf("unknown application <%s>", spec.Application))
		}
		return nil, storageErr(err, "get application")
	}
	if app.State != int(model.AppEnabled) {
		return nil, errors.ErrInvalidArgument.GenWithStackByArgs(
			fmt.Sprintf("application <%s> is disabled", spec.Application))
	}

	dao := &sessionDao{
		ID:           id,
		Application:  spec.Application,
		Slots:        spec.Slots,
		CommonData:   spec.CommonData,
		MinInstances: spec.MinInstances,
		MaxInstances: spec.MaxInstances,
		CreationTime: toMillis(time.Now()),
		State:        int(model.SessionOpen),
		Version:      1,
	}
	if err := tx.Create(dao).Error; err != nil {
		if errors.Cause(err) == gorm.ErrDuplicatedKey {
			return nil, errors.ErrInvalidArgument.GenWithStackByArgs(
				fmt.Sprintf("session <%s> already exists", id))
		}
		return nil, storageErr(err, "create session")
	}
	return dao, nil
}

func (e *sqliteEngine) CreateSession(
	ctx context.Context, id model.SessionID, spec model.SessionSpec,
) (*model.Session, error) {
	var out *model.Session
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dao, err := createSessionTx(tx, id, spec)
		if err != nil {
			return err
		}
		out = dao.toModel()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// validateSessionSpec checks a resubmitted spec against the stored row.
// Common data is deliberately excluded from the comparison.
func validateSessionSpec(dao *sessionDao, spec *model.SessionSpec) error {
	switch {
	case dao.Application != spec.Application:
		return errors.ErrInvalidArgument.GenWithStackByArgs(fmt.Sprintf(
			"session <%s> spec mismatch on application: <%s> vs <%s>",
			dao.ID, dao.Application, spec.Application))
	case dao.Slots != spec.Slots:
		return errors.ErrInvalidArgument.GenWithStackByArgs(fmt.Sprintf(
			"session <%s> spec mismatch on slots: <%d> vs <%d>",
			dao.ID, dao.Slots, spec.Slots))
	case dao.MinInstances != spec.MinInstances:
		return errors.ErrInvalidArgument.GenWithStackByArgs(fmt.Sprintf(
			"session <%s> spec mismatch on min_instances: <%d> vs <%d>",
			dao.ID, dao.MinInstances, spec.MinInstances))
	case dao.MaxInstances != spec.MaxInstances:
		return errors.ErrInvalidArgument.GenWithStackByArgs(fmt.Sprintf(
			"session <%s> spec mismatch on max_instances: <%d> vs <%d>",
			dao.ID, dao.MaxInstances, spec.MaxInstances))
	}
	return nil
}

func (e *sqliteEngine) OpenSession(
	ctx context.Context, id model.SessionID, spec *model.SessionSpec,
) (*model.Session, error) {
	var out *model.Session
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var dao sessionDao
		err := tx.First(&dao, "id = ?", id).Error
		switch {
		case err == nil:
			if dao.State == int(model.SessionClosed) {
				return errors.ErrInvalidState.GenWithStackByArgs(
					fmt.Sprintf("session <%s> is closed", id))
			}
			if spec != nil {
				if err := validateSessionSpec(&dao, spec); err != nil {
					return err
				}
			}
			out = dao.toModel()
			return nil
		case errors.Cause(err) == gorm.ErrRecordNotFound:
			if spec == nil {
				return errors.ErrNotFound.GenWithStackByArgs(id)
			}
			created, err := createSessionTx(tx, id, *spec)
			if err != nil {
				return err
			}
			out = created.toModel()
			return nil
		default:
			return storageErr(err, "get session")
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *sqliteEngine) CloseSession(ctx context.Context, id model.SessionID) (*model.Session, error) {
	var out *model.Session
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var dao sessionDao
		if err := tx.First(&dao, "id = ?", id).Error; err != nil {
			if errors.Cause(err) == gorm.ErrRecordNotFound {
				return errors.ErrNotFound.GenWithStackByArgs(id)
			}
			return storageErr(err, "get session")
		}
		if dao.State == int(model.SessionClosed) {
			out = dao.toModel()
			return nil
		}

		now := toMillis(time.Now())

		// Pending tasks fail on close; the running ones drain normally.
		res := tx.Model(&taskDao{}).
			Where("ssn_id = ? AND state = ?", id, int(model.TaskPending)).
			Updates(map[string]interface{}{
				"state":           int(model.TaskFailed),
				"completion_time": now,
				"version":         gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return storageErr(res.Error, "fail pending tasks")
		}
		failed := res.RowsAffected

		if err := tx.Model(&sessionDao{}).Where("id = ?", id).
			Updates(map[string]interface{}{
				"state":           int(model.SessionClosed),
				"completion_time": now,
				"pending":         0,
				"failed":          gorm.Expr("failed + ?", failed),
				"version":         gorm.Expr("version + 1"),
			}).Error; err != nil {
			return storageErr(err, "close session")
		}

		if err := recordEventTx(tx, model.Event{
			Owner:        id,
			Code:         model.EventSessionClosed,
			Message:      fmt.Sprintf("session closed, %d pending tasks failed", failed),
			CreationTime: time.Now(),
		}); err != nil {
			return err
		}

		var updated sessionDao
		if err := tx.First(&updated, "id = ?", id).Error; err != nil {
			return storageErr(err, "reload session")
		}
		out = updated.toModel()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func deleteSessionTx(tx *gorm.DB, id model.SessionID) error {
	if err := tx.Delete(&taskDao{}, "ssn_id = ?", id).Error; err != nil {
		return storageErr(err, "delete tasks")
	}
	if err := tx.Delete(&eventDao{}, "owner = ? OR parent = ?", id, id).Error; err != nil {
		return storageErr(err, "delete events")
	}
	res := tx.Delete(&sessionDao{}, "id = ? AND state = ?", id, int(model.SessionClosed))
	if res.Error != nil {
		return storageErr(res.Error, "delete session")
	}
	if res.RowsAffected == 0 {
		return errors.ErrInvalidState.GenWithStackByArgs(
			fmt.Sprintf("session <%s> is not closed", id))
	}
	return nil
}

func (e *sqliteEngine) DeleteSession(ctx context.Context, id model.SessionID) (*model.Session, error) {
	var out *model.Session
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var dao sessionDao
		if err := tx.First(&dao, "id = ?", id).Error; err != nil {
			if errors.Cause(err) == gorm.ErrRecordNotFound {
				return errors.ErrNotFound.GenWithStackByArgs(id)
			}
			return storageErr(err, "get session")
		}

		var open int64
		if err := tx.Model(&taskDao{}).
			Where("ssn_id = ? AND state NOT IN ?", id,
				[]int{int(model.TaskSucceed), int(model.TaskFailed)}).
			Count(&open).Error; err != nil {
			return storageErr(err, "count open tasks")
		}
		if open > 0 {
			return errors.ErrInvalidState.GenWithStackByArgs(
				fmt.Sprintf("%d open tasks in session <%s>", open, id))
		}

		if err := deleteSessionTx(tx, id); err != nil {
			return err
		}
		out = dao.toModel()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *sqliteEngine) GetSession(ctx context.Context, id model.SessionID) (*model.Session, error) {
	var dao sessionDao
	if err := e.db.WithContext(ctx).First(&dao, "id = ?", id).Error; err != nil {
		if errors.Cause(err) == gorm.ErrRecordNotFound {
			return nil, errors.ErrNotFound.GenWithStackByArgs(id)
		}
		return nil, storageErr(err, "get session")
	}
	return dao.toModel(), nil
}

func (e *sqliteEngine) ListSessions(ctx context.Context) ([]*model.Session, error) {
	var daos []sessionDao
	if err := e.db.WithContext(ctx).Order("creation_time").Find(&daos).Error; err != nil {
		return nil, storageErr(err, "list sessions")
	}
	ssns := make([]*model.Session, 0, len(daos))
	for i := range daos {
		ssns = append(ssns, daos[i].toModel())
	}
	return ssns, nil
}

func (e *sqliteEngine) CreateTask(
	ctx context.Context, ssnID model.SessionID, input []byte,
) (*model.Task, error) {
	var out *model.Task
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ssn sessionDao
		if err := tx.First(&ssn, "id = ?", ssnID).Error; err != nil {
			if errors.Cause(err) == gorm.ErrRecordNotFound {
				return errors.ErrNotFound.GenWithStackByArgs(ssnID)
			}
			return storageErr(err, "get session")
		}
		if ssn.State != int(model.SessionOpen) {
			return errors.ErrInvalidState.GenWithStackByArgs(
				fmt.Sprintf("session <%s> is not open", ssnID))
		}

		// Task ids are dense per session, starting at 1.
		var next int64
		if err := tx.Raw(
			"SELECT COALESCE(MAX(id)+1, 1) FROM tasks WHERE ssn_id = ?", ssnID,
		).Scan(&next).Error; err != nil {
			return storageErr(err, "next task id")
		}

		dao := &taskDao{
			ID:           next,
			SsnID:        ssnID,
			Input:        input,
			CreationTime: toMillis(time.Now()),
			State:        int(model.TaskPending),
			Version:      1,
		}
		if err := tx.Create(dao).Error; err != nil {
			return storageErr(err, "create task")
		}

		if err := tx.Model(&sessionDao{}).Where("id = ?", ssnID).
			Updates(map[string]interface{}{
				"pending": gorm.Expr("pending + 1"),
				"version": gorm.Expr("version + 1"),
			}).Error; err != nil {
			return storageErr(err, "bump pending counter")
		}

		if err := recordEventTx(tx, model.Event{
			Owner:        model.TaskGID{SessionID: ssnID, TaskID: next}.String(),
			Parent:       ssnID,
			Code:         model.EventTaskPending,
			Message:      "task created",
			CreationTime: time.Now(),
		}); err != nil {
			return err
		}

		out = dao.toModel()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *sqliteEngine) GetTask(ctx context.Context, gid model.TaskGID) (*model.Task, error) {
	var dao taskDao
	if err := e.db.WithContext(ctx).
		First(&dao, "id = ? AND ssn_id = ?", gid.TaskID, gid.SessionID).Error; err != nil {
		if errors.Cause(err) == gorm.ErrRecordNotFound {
			return nil, errors.ErrNotFound.GenWithStackByArgs(gid.String())
		}
		return nil, storageErr(err, "get task")
	}
	task := dao.toModel()

	events, err := e.ListEvents(ctx, gid.String())
	if err != nil {
		return nil, err
	}
	task.Events = events
	return task, nil
}

func (e *sqliteEngine) ListTasks(
	ctx context.Context, ssnID model.SessionID, states ...model.TaskState,
) ([]*model.Task, error) {
	q := e.db.WithContext(ctx).Where("ssn_id = ?", ssnID)
	if len(states) > 0 {
		vals := make([]int, 0, len(states))
		for _, s := range states {
			vals = append(vals, int(s))
		}
		q = q.Where("state IN ?", vals)
	}
	var daos []taskDao
	if err := q.Order("id").Find(&daos).Error; err != nil {
		return nil, storageErr(err, "list tasks")
	}
	tasks := make([]*model.Task, 0, len(daos))
	for i := range daos {
		tasks = append(tasks, daos[i].toModel())
	}
	return tasks, nil
}

func (e *sqliteEngine) LaunchTask(ctx context.Context, ssnID model.SessionID) (*model.Task, error) {
	var out *model.Task
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var dao taskDao
		err := tx.Where("ssn_id = ? AND state = ?", ssnID, int(model.TaskPending)).
			Order("id").First(&dao).Error
		if err != nil {
			if errors.Cause(err) == gorm.ErrRecordNotFound {
				return nil
			}
			return storageErr(err, "pick pending task")
		}

		// The conditional transition is what makes dispatch at-most-once: a
		// task already grabbed by a concurrent launch no longer matches.
		res := tx.Model(&taskDao{}).
			Where("id = ? AND ssn_id = ? AND state = ?",
				dao.ID, ssnID, int(model.TaskPending)).
			Updates(map[string]interface{}{
				"state":   int(model.TaskRunning),
				"version": gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return storageErr(res.Error, "launch task")
		}
		if res.RowsAffected == 0 {
			return nil
		}

		if err := tx.Model(&sessionDao{}).Where("id = ?", ssnID).
			Updates(map[string]interface{}{
				"pending": gorm.Expr("pending - 1"),
				"running": gorm.Expr("running + 1"),
				"version": gorm.Expr("version + 1"),
			}).Error; err != nil {
			return storageErr(err, "move pending counter")
		}

		if err := recordEventTx(tx, model.Event{
			Owner:        model.TaskGID{SessionID: ssnID, TaskID: dao.ID}.String(),
			Parent:       ssnID,
			Code:         model.EventTaskRunning,
			Message:      "task launched",
			CreationTime: time.Now(),
		}); err != nil {
			return err
		}

		var updated taskDao
		if err := tx.First(&updated, "id = ? AND ssn_id = ?", dao.ID, ssnID).Error; err != nil {
			return storageErr(err, "reload task")
		}
		out = updated.toModel()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *sqliteEngine) RetryTask(ctx context.Context, gid model.TaskGID) (*model.Task, error) {
	var out *model.Task
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&taskDao{}).
			Where("id = ? AND ssn_id = ? AND state = ?",
				gid.TaskID, gid.SessionID, int(model.TaskRunning)).
			Updates(map[string]interface{}{
				"state":   int(model.TaskPending),
				"version": gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return storageErr(res.Error, "retry task")
		}
		if res.RowsAffected == 0 {
			return errors.ErrInvalidState.GenWithStackByArgs(
				fmt.Sprintf("task <%s> is not running", gid))
		}

		if err := tx.Model(&sessionDao{}).Where("id = ?", gid.SessionID).
			Updates(map[string]interface{}{
				"pending": gorm.Expr("pending + 1"),
				"running": gorm.Expr("running - 1"),
				"version": gorm.Expr("version + 1"),
			}).Error; err != nil {
			return storageErr(err, "move running counter")
		}

		if err := recordEventTx(tx, model.Event{
			Owner:        gid.String(),
			Parent:       gid.SessionID,
			Code:         model.EventTaskPending,
			Message:      "task requeued",
			CreationTime: time.Now(),
		}); err != nil {
			return err
		}

		var updated taskDao
		if err := tx.First(&updated, "id = ? AND ssn_id = ?", gid.TaskID, gid.SessionID).Error; err != nil {
			return storageErr(err, "reload task")
		}
		out = updated.toModel()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *sqliteEngine) CompleteTask(
	ctx context.Context, gid model.TaskGID, state model.TaskState, output []byte, message string,
) (*model.Task, error) {
	if !state.Terminal() {
		return nil, errors.ErrInvalidArgument.GenWithStackByArgs(
			fmt.Sprintf("state <%s> is not terminal", state))
	}

	var out *model.Task
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var dao taskDao
		if err := tx.First(&dao, "id = ? AND ssn_id = ?", gid.TaskID, gid.SessionID).Error; err != nil {
			if errors.Cause(err) == gorm.ErrRecordNotFound {
				return errors.ErrNotFound.GenWithStackByArgs(gid.String())
			}
			return storageErr(err, "get task")
		}

		// A replayed completion is a no-op.
		if model.TaskState(dao.State).Terminal() {
			out = dao.toModel()
			return nil
		}
		if dao.State != int(model.TaskRunning) {
			return errors.ErrInvalidState.GenWithStackByArgs(
				fmt.Sprintf("task <%s> is <%s>, not running", gid, model.TaskState(dao.State)))
		}

		now := toMillis(time.Now())
		if err := tx.Model(&taskDao{}).
			Where("id = ? AND ssn_id = ?", gid.TaskID, gid.SessionID).
			Updates(map[string]interface{}{
				"state":           int(state),
				"output":          output,
				"completion_time": now,
				"version":         gorm.Expr("version + 1"),
			}).Error; err != nil {
			return storageErr(err, "complete task")
		}

		counter := "succeed"
		if state == model.TaskFailed {
			counter = "failed"
		}
		if err := tx.Model(&sessionDao{}).Where("id = ?", gid.SessionID).
			Updates(map[string]interface{}{
				"running": gorm.Expr("running - 1"),
				counter:   gorm.Expr(counter + " + 1"),
				"version": gorm.Expr("version + 1"),
			}).Error; err != nil {
			return storageErr(err, "move running counter")
		}

		if message == "" {
			message = fmt.Sprintf("task completed with state <%s>", state)
		}
		if err := recordEventTx(tx, model.Event{
			Owner:        gid.String(),
			Parent:       gid.SessionID,
			Code:         100 + int(state),
			Message:      message,
			CreationTime: time.Now(),
		}); err != nil {
			return err
		}

		var updated taskDao
		if err := tx.First(&updated, "id = ? AND ssn_id = ?", gid.TaskID, gid.SessionID).Error; err != nil {
			return storageErr(err, "reload task")
		}
		out = updated.toModel()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func recordEventTx(tx *gorm.DB, event model.Event) error {
	dao := &eventDao{
		Owner:        event.Owner,
		Parent:       event.Parent,
		Code:         event.Code,
		Message:      event.Message,
		CreationTime: toMillis(event.CreationTime),
	}
	if err := tx.Create(dao).Error; err != nil {
		return storageErr(err, "record event")
	}
	return nil
}

func (e *sqliteEngine) RecordEvent(ctx context.Context, event model.Event) error {
	return recordEventTx(e.db.WithContext(ctx), event)
}

func (e *sqliteEngine) ListEvents(ctx context.Context, owner string) ([]model.Event, error) {
	var daos []eventDao
	if err := e.db.WithContext(ctx).Where("owner = ?", owner).
		Order("creation_time").Find(&daos).Error; err != nil {
		return nil, storageErr(err, "list events")
	}
	events := make([]model.Event, 0, len(daos))
	for i := range daos {
		events = append(events, daos[i].toModel())
	}
	return events, nil
}

func (e *sqliteEngine) ListEventsByParent(ctx context.Context, parent string) ([]model.Event, error) {
	var daos []eventDao
	if err := e.db.WithContext(ctx).Where("parent = ?", parent).
		Order("creation_time").Find(&daos).Error; err != nil {
		return nil, storageErr(err, "list events by parent")
	}
	events := make([]model.Event, 0, len(daos))
	for i := range daos {
		events = append(events, daos[i].toModel())
	}
	return events, nil
}
