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
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Start requests the daemon to start its services.
func (c *Client) Start() (*StartResponse, error) {
	var resp StartResponse
	if err := c.client.Call("Creel.Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop its services.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("Creel.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Creel.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RecordStart begins a capture for a configured target.
func (c *Client) RecordStart(targetID string) (*RecordStartResponse, error) {
	var resp RecordStartResponse
	req := RecordStartRequest{TargetID: targetID}
	if err := c.client.Call("Creel.RecordStart", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RecordStop stops the capture for a job.
func (c *Client) RecordStop(jobID int64) (*RecordStopResponse, error) {
	var resp RecordStopResponse
	req := RecordStopRequest{JobID: jobID}
	if err := c.client.Call("Creel.RecordStop", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobList returns jobs optionally filtered by statuses.
func (c *Client) JobList(statuses []string) (*JobListResponse, error) {
	var resp JobListResponse
	req := JobListRequest{Statuses: statuses}
	if err := c.client.Call("Creel.JobList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobDescribe returns details for a single job.
func (c *Client) JobDescribe(id int64) (*JobDescribeResponse, error) {
	var resp JobDescribeResponse
	req := JobDescribeRequest{ID: id}
	if err := c.client.Call("Creel.JobDescribe", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TaskList returns background tasks optionally filtered by statuses.
func (c *Client) TaskList(statuses []string) (*TaskListResponse, error) {
	var resp TaskListResponse
	req := TaskListRequest{Statuses: statuses}
	if err := c.client.Call("Creel.TaskList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TargetList returns configured targets with their active jobs.
func (c *Client) TargetList() (*TargetListResponse, error) {
	var resp TargetListResponse
	if err := c.client.Call("Creel.TargetList", TargetListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Issues returns jobs and tasks needing operator attention.
func (c *Client) Issues() (*IssuesResponse, error) {
	var resp IssuesResponse
	if err := c.client.Call("Creel.Issues", IssuesRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FixStuck force-reconciles one stuck job.
func (c *Client) FixStuck(jobID int64) (*FixStuckResponse, error) {
	var resp FixStuckResponse
	req := FixStuckRequest{JobID: jobID}
	if err := c.client.Call("Creel.FixStuck", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StopRecovery abandons pending recovery retries for a job.
func (c *Client) StopRecovery(jobID int64) (*StopRecoveryResponse, error) {
	var resp StopRecoveryResponse
	req := StopRecoveryRequest{JobID: jobID}
	if err := c.client.Call("Creel.StopRecovery", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RetryFinalize requeues failed finalize tasks.
func (c *Client) RetryFinalize(jobID int64, dryRun bool) (*RetryFinalizeResponse, error) {
	var resp RetryFinalizeResponse
	req := RetryFinalizeRequest{JobID: jobID, DryRun: dryRun}
	if err := c.client.Call("Creel.RetryFinalize", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail returns log lines from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.client.Call("Creel.LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Creel.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
