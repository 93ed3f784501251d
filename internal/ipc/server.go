package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"log/slog"

	"creel/internal/api"
	"creel/internal/daemon"
	"creel/internal/logging"
	"creel/internal/logs"
	"creel/internal/recording"
	"creel/internal/tasks"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName("Creel", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.log().Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.log().Info("daemon started via IPC",
		logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.log().Info("daemon stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status, err := s.daemon.Status(s.ctx)
	if err != nil {
		return err
	}
	resp.Running = status.Running
	resp.PID = status.PID
	resp.DatabasePath = status.DatabasePath
	resp.LockPath = status.LockFilePath
	resp.JobStats = make(map[string]int, len(status.JobStats))
	for k, v := range status.JobStats {
		resp.JobStats[string(k)] = v
	}
	resp.TaskStats = make(map[string]int, len(status.TaskStats))
	for k, v := range status.TaskStats {
		resp.TaskStats[string(k)] = v
	}
	resp.ActiveJobs = make([]Job, 0, len(status.ActiveJobs))
	for _, job := range status.ActiveJobs {
		resp.ActiveJobs = append(resp.ActiveJobs, api.FromJob(job))
	}
	return nil
}

func (s *service) RecordStart(req RecordStartRequest, resp *RecordStartResponse) error {
	if req.TargetID == "" {
		return errors.New("record start requires a target id")
	}
	s.log().Debug("recording start requested", logging.String(logging.FieldTargetID, req.TargetID))
	job, err := s.daemon.StartRecording(logging.WithTargetID(s.ctx, req.TargetID), req.TargetID)
	if err != nil {
		return err
	}
	resp.Job = api.FromJob(job)
	return nil
}

func (s *service) RecordStop(req RecordStopRequest, resp *RecordStopResponse) error {
	if req.JobID <= 0 {
		return fmt.Errorf("invalid job id %d", req.JobID)
	}
	s.log().Debug("recording stop requested", logging.Int64(logging.FieldJobID, req.JobID))
	if err := s.daemon.StopRecording(logging.WithJobID(s.ctx, req.JobID), req.JobID); err != nil {
		return err
	}
	resp.Stopped = true
	return nil
}

func (s *service) JobList(req JobListRequest, resp *JobListResponse) error {
	statuses := make([]recording.Status, 0, len(req.Statuses))
	for _, status := range req.Statuses {
		parsed, ok := recording.ParseStatus(status)
		if !ok {
			return fmt.Errorf("unknown job status %q", status)
		}
		statuses = append(statuses, parsed)
	}
	jobs, err := s.daemon.ListJobs(s.ctx, statuses)
	if err != nil {
		return err
	}
	resp.Jobs = make([]Job, 0, len(jobs))
	for _, job := range jobs {
		if job == nil {
			continue
		}
		resp.Jobs = append(resp.Jobs, api.FromJob(job))
	}
	return nil
}

func (s *service) JobDescribe(req JobDescribeRequest, resp *JobDescribeResponse) error {
	if req.ID <= 0 {
		return fmt.Errorf("invalid job id %d", req.ID)
	}
	job, err := s.daemon.GetJob(s.ctx, req.ID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %d not found", req.ID)
	}
	resp.Job = api.FromJob(job)
	return nil
}

func (s *service) TaskList(req TaskListRequest, resp *TaskListResponse) error {
	statuses := make([]tasks.Status, 0, len(req.Statuses))
	for _, status := range req.Statuses {
		parsed, ok := tasks.ParseStatus(status)
		if !ok {
			return fmt.Errorf("unknown task status %q", status)
		}
		statuses = append(statuses, parsed)
	}
	list, err := s.daemon.ListTasks(s.ctx, statuses)
	if err != nil {
		return err
	}
	resp.Tasks = make([]Task, 0, len(list))
	for _, task := range list {
		if task == nil {
			continue
		}
		resp.Tasks = append(resp.Tasks, api.FromTask(task))
	}
	return nil
}

func (s *service) TargetList(_ TargetListRequest, resp *TargetListResponse) error {
	statuses, err := s.daemon.Targets(s.ctx)
	if err != nil {
		return err
	}
	resp.Targets = make([]Target, 0, len(statuses))
	for _, status := range statuses {
		resp.Targets = append(resp.Targets, Target{
			ID:        status.Target.ID,
			Name:      status.Target.Name,
			URL:       status.Target.URL,
			Quality:   status.Target.Quality,
			ActiveJob: status.ActiveJobID,
		})
	}
	return nil
}

func (s *service) Issues(_ IssuesRequest, resp *IssuesResponse) error {
	issues, err := s.daemon.ListIssues(s.ctx)
	if err != nil {
		return err
	}
	for _, job := range issues.StuckJobs {
		resp.Issues.StuckJobs = append(resp.Issues.StuckJobs, api.FromJob(job))
	}
	for _, job := range issues.OrphanedJobs {
		resp.Issues.OrphanedJobs = append(resp.Issues.OrphanedJobs, api.FromJob(job))
	}
	for _, task := range issues.MislabeledTasks {
		resp.Issues.MislabeledTasks = append(resp.Issues.MislabeledTasks, api.FromTask(task))
	}
	return nil
}

func (s *service) FixStuck(req FixStuckRequest, resp *FixStuckResponse) error {
	if req.JobID <= 0 {
		return fmt.Errorf("invalid job id %d", req.JobID)
	}
	s.log().Debug("force fix requested", logging.Int64(logging.FieldJobID, req.JobID))
	result, err := s.daemon.ForceFixStuck(s.ctx, req.JobID)
	if err != nil {
		return err
	}
	resp.Result = result
	return nil
}

func (s *service) StopRecovery(req StopRecoveryRequest, resp *StopRecoveryResponse) error {
	if req.JobID <= 0 {
		return fmt.Errorf("invalid job id %d", req.JobID)
	}
	marked, err := s.daemon.StopOrphanRecovery(s.ctx, req.JobID)
	if err != nil {
		return err
	}
	resp.TasksMarkedStale = marked
	return nil
}

func (s *service) RetryFinalize(req RetryFinalizeRequest, resp *RetryFinalizeResponse) error {
	entries, err := s.daemon.RetryFinalize(s.ctx, req.JobID, req.DryRun)
	if err != nil {
		return err
	}
	resp.Plan.DryRun = req.DryRun
	resp.Plan.Tasks = make([]api.RetryEntry, 0, len(entries))
	for _, entry := range entries {
		resp.Plan.Tasks = append(resp.Plan.Tasks, api.RetryEntry{
			TaskID: entry.Task.ID,
			JobID:  entry.Task.JobID,
			Status: string(entry.Task.Status),
			Action: entry.Action,
		})
	}
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	logPath := s.daemon.LogPath()
	if logPath == "" {
		resp.Offset = 0
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	options := logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, logPath, options)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			resp.Offset = result.Offset
			return nil
		}
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
