// Package client talks to a spendgate gRPC server.
package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/spendgate/internal/model"
	"github.com/ppiankov/spendgate/internal/server"
	"github.com/ppiankov/spendgate/internal/workflow"
)

// DefaultTimeout bounds every call made by Client.
const DefaultTimeout = 5 * time.Second

// Client connects to a spendgate ApprovalService.
type Client struct {
	conn    *grpc.ClientConn
	Timeout time.Duration
}

// New creates a gRPC client connected to the given address.
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to spendgate server: %w", err)
	}
	return &Client{conn: conn, Timeout: DefaultTimeout}, nil
}

// Submit files a new expense.
func (c *Client) Submit(ctx context.Context, req server.SubmitRequest) (*model.Expense, error) {
	var e model.Expense
	if err := c.invoke(ctx, server.MethodSubmit, req, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Decide records an approve or reject decision.
func (c *Client) Decide(ctx context.Context, expenseID, approverID string, d model.Decision, comments string) (*model.Expense, error) {
	var e model.Expense
	req := server.DecideRequest{ExpenseID: expenseID, ApproverID: approverID, Decision: string(d), Comments: comments}
	if err := c.invoke(ctx, server.MethodDecide, req, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Get fetches one expense.
func (c *Client) Get(ctx context.Context, id string) (*model.Expense, error) {
	var e model.Expense
	if err := c.invoke(ctx, server.MethodGet, server.GetRequest{ExpenseID: id}, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// List returns expenses matching req.
func (c *Client) List(ctx context.Context, req server.ListRequest) ([]*model.Expense, error) {
	var out server.ExpenseList
	if err := c.invoke(ctx, server.MethodList, req, &out); err != nil {
		return nil, err
	}
	return out.Expenses, nil
}

// Pending returns the expenses approverID can decide now.
func (c *Client) Pending(ctx context.Context, approverID string) ([]*model.Expense, error) {
	var out server.ExpenseList
	if err := c.invoke(ctx, server.MethodPending, server.PendingRequest{ApproverID: approverID}, &out); err != nil {
		return nil, err
	}
	return out.Expenses, nil
}

// Stats returns totals, optionally for one submitter.
func (c *Client) Stats(ctx context.Context, submitterID string) (workflow.Stats, error) {
	var st workflow.Stats
	err := c.invoke(ctx, server.MethodStats, server.StatsRequest{SubmitterID: submitterID}, &st)
	return st, err
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	in, err := server.Encode(req)
	if err != nil {
		return err
	}
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return FromStatus(err)
	}
	return server.Decode(out, resp)
}

var knownKinds = []model.Kind{
	model.KindValidation, model.KindInvalidRule, model.KindNoRuleMatched, model.KindNotAuthorizedApprover,
	model.KindNotPending, model.KindRateUnavailable, model.KindConcurrentModification, model.KindNotFound,
}

// FromStatus rebuilds a typed model.Error from a gRPC status whose message
// has the "kind: reason" form. Other errors are returned unchanged.
func FromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	msg := st.Message()
	for _, k := range knownKinds {
		prefix := string(k) + ": "
		if strings.HasPrefix(msg, prefix) {
			return &model.Error{Kind: k, Reason: strings.TrimPrefix(msg, prefix), Err: err}
		}
		if msg == string(k) {
			return &model.Error{Kind: k, Err: err}
		}
	}
	return err
}
