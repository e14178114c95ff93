package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, client: rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) call(method string, req, resp any) error {
	return c.client.Call(serviceName+"."+method, req, resp)
}

// Control runs an engine action: start, stop, pause, resume, skip, or confirm.
func (c *Client) Control(action string, approved bool) (*ControlResponse, error) {
	var resp ControlResponse
	if err := c.call("Control", ControlRequest{Action: action, Approved: approved}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueList lists queue items.
func (c *Client) QueueList(req QueueListRequest) (*QueueListResponse, error) {
	var resp QueueListResponse
	if err := c.call("QueueList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueDescribe fetches one item.
func (c *Client) QueueDescribe(id string) (*QueueItemResponse, error) {
	var resp QueueItemResponse
	if err := c.call("QueueDescribe", QueueItemRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueAdd enqueues one item.
func (c *Client) QueueAdd(req QueueAddRequest) (*QueueItemResponse, error) {
	var resp QueueItemResponse
	if err := c.call("QueueAdd", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueUpload enqueues JSON or YAML documents.
func (c *Client) QueueUpload(req QueueUploadRequest) (*QueueUploadResponse, error) {
	var resp QueueUploadResponse
	if err := c.call("QueueUpload", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueUpdate edits one item.
func (c *Client) QueueUpdate(req QueueUpdateRequest) (*QueueItemResponse, error) {
	var resp QueueItemResponse
	if err := c.call("QueueUpdate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueDelete removes items.
func (c *Client) QueueDelete(ids []string) (*QueueDeleteResponse, error) {
	var resp QueueDeleteResponse
	if err := c.call("QueueDelete", QueueDeleteRequest{IDs: ids}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueRetry retries one failed item, or every failed item when id is empty.
func (c *Client) QueueRetry(id string) (*CountResponse, error) {
	var resp CountResponse
	if err := c.call("QueueRetry", QueueRetryRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueReorder moves an item between positions.
func (c *Client) QueueReorder(oldIndex, newIndex int) error {
	var resp Empty
	return c.call("QueueReorder", QueueReorderRequest{OldIndex: oldIndex, NewIndex: newIndex}, &resp)
}

// QueueClear removes every item not under processing.
func (c *Client) QueueClear() (*CountResponse, error) {
	var resp CountResponse
	if err := c.call("QueueClear", Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueStats returns per-status counts.
func (c *Client) QueueStats() (*QueueStatsResponse, error) {
	var resp QueueStatsResponse
	if err := c.call("QueueStats", Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueExport serialises the queue.
func (c *Client) QueueExport(format string) (*QueueExportResponse, error) {
	var resp QueueExportResponse
	if err := c.call("QueueExport", QueueExportRequest{Format: format}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueImport replaces the queue with a json export.
func (c *Client) QueueImport(data []byte) (*CountResponse, error) {
	var resp CountResponse
	if err := c.call("QueueImport", QueueImportRequest{Data: data}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueBackup writes a point-in-time copy.
func (c *Client) QueueBackup() (*BackupResponse, error) {
	var resp BackupResponse
	if err := c.call("QueueBackup", Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification sends a test notification.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.call("TestNotification", Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
