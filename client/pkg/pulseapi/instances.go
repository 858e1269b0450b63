package pulseapi

import (
	"context"
	"net/http"
)

// ListInstances returns all stored database connections.
func (c *Client) ListInstances(ctx context.Context) ([]Instance, error) {
	var instances []Instance
	err := c.do(ctx, call{
		op:     "list_instances",
		method: http.MethodGet,
		path:   "/instances",
		out:    &instances,
		retry:  true,
	})
	if err != nil {
		return nil, err
	}
	return instances, nil
}

// GetInstance returns a stored database connection.
func (c *Client) GetInstance(ctx context.Context, id string) (Instance, error) {
	var instance Instance
	err := c.do(ctx, call{
		op:     "get_instance",
		method: http.MethodGet,
		path:   "/instances/" + pathID(id),
		out:    &instance,
		retry:  true,
	})
	return instance, err
}

// CreateInstance stores a new database connection.
func (c *Client) CreateInstance(ctx context.Context, req InstanceCreate) (Instance, error) {
	var instance Instance
	err := c.do(ctx, call{
		op:     "create_instance",
		method: http.MethodPost,
		path:   "/instances",
		body:   req,
		out:    &instance,
	})
	return instance, err
}

// UpdateInstance updates fields of a stored database connection.
func (c *Client) UpdateInstance(ctx context.Context, id string, req InstanceUpdate) (Instance, error) {
	var instance Instance
	err := c.do(ctx, call{
		op:     "update_instance",
		method: http.MethodPut,
		path:   "/instances/" + pathID(id),
		body:   req,
		out:    &instance,
	})
	return instance, err
}

// DeleteInstance removes a stored database connection.
func (c *Client) DeleteInstance(ctx context.Context, id string) error {
	return c.do(ctx, call{
		op:     "delete_instance",
		method: http.MethodDelete,
		path:   "/instances/" + pathID(id),
	})
}

// TestInstance asks the backend to open a connection to the instance.
func (c *Client) TestInstance(ctx context.Context, id string) (TestResult, error) {
	var result TestResult
	err := c.do(ctx, call{
		op:     "test_instance",
		method: http.MethodPost,
		path:   "/instances/" + pathID(id) + "/test",
		out:    &result,
	})
	return result, err
}

// GetSchema resolves the schema of a stored connection. A well-formed
// response with status "error" is returned without an error; callers decide
// what a failed lookup means.
func (c *Client) GetSchema(ctx context.Context, id string) (SchemaResponse, error) {
	var resp SchemaResponse
	err := c.do(ctx, call{
		op:     "get_schema",
		method: http.MethodGet,
		path:   "/instances/" + pathID(id) + "/schema",
		out:    &resp,
		retry:  true,
	})
	return resp, err
}

// ExecuteQuery runs SQL against a stored connection.
func (c *Client) ExecuteQuery(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	var resp QueryResponse
	err := c.do(ctx, call{
		op:     "execute_query",
		method: http.MethodPost,
		path:   "/query",
		body:   req,
		out:    &resp,
	})
	return resp, err
}

// ExecuteQueryByConnection runs SQL against the connection in the path.
func (c *Client) ExecuteQueryByConnection(ctx context.Context, id, sql string) (QueryResponse, error) {
	var resp QueryResponse
	err := c.do(ctx, call{
		op:     "execute_query_by_connection",
		method: http.MethodPost,
		path:   "/instances/" + pathID(id) + "/query",
		body:   map[string]string{"sql": sql},
		out:    &resp,
	})
	return resp, err
}
