package pulseapi

import (
	"context"
	"net/http"
)

// SubmitWorkflow starts a workflow. It is never retried: a retried submission
// could start the same workflow twice.
func (c *Client) SubmitWorkflow(ctx context.Context, req WorkflowRequest) (WorkflowResponse, error) {
	var resp WorkflowResponse
	err := c.do(ctx, call{
		op:     "submit_workflow",
		method: http.MethodPost,
		path:   "/workflows",
		body:   req,
		out:    &resp,
	})
	return resp, err
}

// GetSteps returns the current step list of a workflow. Polling cadence and
// retries belong to the caller, so a failure is returned as is.
func (c *Client) GetSteps(ctx context.Context, requestID string) ([]StepOutput, error) {
	var steps []StepOutput
	err := c.do(ctx, call{
		op:     "get_steps",
		method: http.MethodGet,
		path:   "/workflows/" + pathID(requestID) + "/steps",
		out:    &steps,
	})
	if err != nil {
		return nil, err
	}
	return steps, nil
}

// GetStatus returns the overall status of a workflow.
func (c *Client) GetStatus(ctx context.Context, requestID string) (WorkflowStatusResponse, error) {
	var resp WorkflowStatusResponse
	err := c.do(ctx, call{
		op:     "get_status",
		method: http.MethodGet,
		path:   "/workflows/" + pathID(requestID) + "/status",
		out:    &resp,
	})
	return resp, err
}

// ListHistory returns past workflow runs.
func (c *Client) ListHistory(ctx context.Context) ([]HistoryItem, error) {
	var items []HistoryItem
	err := c.do(ctx, call{
		op:     "list_history",
		method: http.MethodGet,
		path:   "/workflows/history",
		out:    &items,
		retry:  true,
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}
