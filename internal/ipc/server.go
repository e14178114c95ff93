package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"portalpilot/internal/daemon"
	"portalpilot/internal/ingest"
	"portalpilot/internal/logging"
	"portalpilot/internal/queue"
)

const serviceName = "PortalPilot"

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
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
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(serviceName, &service{daemon: d, logger: logger, ctx: serverCtx}); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
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
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
				)
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
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
		)
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Control(req ControlRequest, resp *ControlResponse) error {
	var err error
	switch req.Action {
	case "start":
		err = s.daemon.StartAutomation()
	case "stop":
		stopCtx, cancel := context.WithTimeout(s.ctx, time.Minute)
		err = s.daemon.StopAutomation(stopCtx)
		cancel()
	case "pause":
		err = s.daemon.PauseAutomation()
	case "resume":
		err = s.daemon.ResumeAutomation()
	case "skip":
		err = s.daemon.SkipItem()
	case "confirm":
		err = s.daemon.Confirm(req.Approved)
	default:
		return fmt.Errorf("unknown action %q", req.Action)
	}
	resp.Engine = s.daemon.EngineStatus()
	if err != nil {
		resp.Message = err.Error()
		return nil
	}
	resp.OK = true
	s.logger.Info("engine control via IPC",
		logging.String("action", req.Action),
		logging.String(logging.FieldEventType, "ipc_control"),
	)
	return nil
}

func (s *service) Status(_ Empty, resp *StatusResponse) error {
	resp.Status = s.daemon.Status(s.ctx)
	return nil
}

func (s *service) QueueList(req QueueListRequest, resp *QueueListResponse) error {
	statuses := make([]queue.Status, 0, len(req.Statuses))
	for _, value := range req.Statuses {
		status, ok := queue.ParseStatus(value)
		if !ok {
			return fmt.Errorf("unknown status %q", value)
		}
		statuses = append(statuses, status)
	}
	items, err := s.daemon.Queue().List(s.ctx, req.Query, statuses...)
	if err != nil {
		return err
	}
	resp.Items = items
	return nil
}

func (s *service) QueueDescribe(req QueueItemRequest, resp *QueueItemResponse) error {
	item, err := s.daemon.Queue().Describe(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Item = *item
	return nil
}

func (s *service) QueueAdd(req QueueAddRequest, resp *QueueItemResponse) error {
	item, err := s.daemon.Queue().Enqueue(s.ctx, req)
	if err != nil {
		return err
	}
	resp.Item = *item
	return nil
}

func (s *service) QueueUpload(req QueueUploadRequest, resp *QueueUploadResponse) error {
	results, err := s.daemon.Queue().Upload(s.ctx, req.Data, ingest.Format(req.Format), req.Priority)
	if err != nil {
		return err
	}
	resp.Results = results
	return nil
}

func (s *service) QueueUpdate(req QueueUpdateRequest, resp *QueueItemResponse) error {
	item, err := s.daemon.Queue().Update(s.ctx, req.ID, req.Update)
	if err != nil {
		return err
	}
	resp.Item = *item
	return nil
}

func (s *service) QueueDelete(req QueueDeleteRequest, resp *QueueDeleteResponse) error {
	out, err := s.daemon.Queue().BulkDelete(s.ctx, req.IDs)
	if err != nil {
		return err
	}
	*resp = out
	return nil
}

func (s *service) QueueRetry(req QueueRetryRequest, resp *CountResponse) error {
	if req.ID == "" {
		out, err := s.daemon.Queue().RetryAll(s.ctx)
		if err != nil {
			return err
		}
		*resp = out
		return nil
	}
	if _, err := s.daemon.Queue().Retry(s.ctx, req.ID); err != nil {
		return err
	}
	resp.Count = 1
	return nil
}

func (s *service) QueueReorder(req QueueReorderRequest, _ *Empty) error {
	return s.daemon.Queue().Reorder(s.ctx, req)
}

func (s *service) QueueClear(_ Empty, resp *CountResponse) error {
	out, err := s.daemon.Queue().Clear(s.ctx)
	if err != nil {
		return err
	}
	*resp = out
	s.logger.Info("queue cleared via IPC",
		logging.Int("removed_count", out.Count),
		logging.String(logging.FieldEventType, "queue_clear"),
	)
	return nil
}

func (s *service) QueueStats(_ Empty, resp *QueueStatsResponse) error {
	stats, err := s.daemon.Queue().Statistics(s.ctx)
	if err != nil {
		return err
	}
	resp.Stats = stats
	return nil
}

func (s *service) QueueExport(req QueueExportRequest, resp *QueueExportResponse) error {
	data, err := s.daemon.Queue().Export(s.ctx, req.Format)
	if err != nil {
		return err
	}
	resp.Data = data
	return nil
}

func (s *service) QueueImport(req QueueImportRequest, resp *CountResponse) error {
	out, err := s.daemon.Queue().Import(s.ctx, req.Data)
	if err != nil {
		return err
	}
	*resp = out
	return nil
}

func (s *service) QueueBackup(_ Empty, resp *BackupResponse) error {
	out, err := s.daemon.Queue().Backup(s.ctx)
	if err != nil {
		return err
	}
	*resp = out
	return nil
}

func (s *service) TestNotification(_ Empty, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", message, err)
	}
	resp.Sent = sent
	resp.Message = message
	return nil
}
