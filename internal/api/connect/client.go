package connect

import (
	"context"
	"strings"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/osa030/musicisland/internal/api/islandv1"
)

// Client calls the island service.
type Client struct {
	getStatus      *connect.Client[emptypb.Empty, structpb.Struct]
	gesture        *connect.Client[wrapperspb.StringValue, emptypb.Empty]
	transport      *connect.Client[wrapperspb.StringValue, emptypb.Empty]
	updateSettings *connect.Client[structpb.Struct, structpb.Struct]
	subscribe      *connect.Client[emptypb.Empty, structpb.Struct]
}

// NewClient creates a client for the service at baseURL. A non-empty token is
// sent with every call.
func NewClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *Client {
	if token != "" {
		opts = append(opts, connect.WithInterceptors(NewTokenInterceptor(token)))
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		getStatus:      connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+islandv1.GetStatusProcedure, opts...),
		gesture:        connect.NewClient[wrapperspb.StringValue, emptypb.Empty](httpClient, baseURL+islandv1.GestureProcedure, opts...),
		transport:      connect.NewClient[wrapperspb.StringValue, emptypb.Empty](httpClient, baseURL+islandv1.TransportProcedure, opts...),
		updateSettings: connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+islandv1.UpdateSettingsProcedure, opts...),
		subscribe:      connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+islandv1.SubscribeProcedure, opts...),
	}
}

// GetStatus fetches the daemon status.
func (c *Client) GetStatus(ctx context.Context) (islandv1.Status, error) {
	resp, err := c.getStatus.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return islandv1.Status{}, errors.Wrap(err, "GetStatus failed")
	}
	return islandv1.StatusFromStruct(resp.Msg)
}

// Gesture sends a gesture: tap, swipe_up or long_press.
func (c *Client) Gesture(ctx context.Context, gesture string) error {
	_, err := c.gesture.CallUnary(ctx, connect.NewRequest(wrapperspb.String(gesture)))
	return errors.Wrap(err, "Gesture failed")
}

// Transport sends a transport command.
func (c *Client) Transport(ctx context.Context, command string) error {
	_, err := c.transport.CallUnary(ctx, connect.NewRequest(wrapperspb.String(command)))
	return errors.Wrap(err, "Transport failed")
}

// UpdateSettings changes the persisted settings.
func (c *Client) UpdateSettings(ctx context.Context, update islandv1.SettingsUpdate) (islandv1.Status, error) {
	msg, err := update.ToStruct()
	if err != nil {
		return islandv1.Status{}, err
	}
	resp, err := c.updateSettings.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return islandv1.Status{}, errors.Wrap(err, "UpdateSettings failed")
	}
	return islandv1.StatusFromStruct(resp.Msg)
}

// Subscribe calls fn for every frame until ctx ends, the server closes the
// stream or fn returns an error.
func (c *Client) Subscribe(ctx context.Context, fn func(islandv1.Frame) error) error {
	stream, err := c.subscribe.CallServerStream(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return errors.Wrap(err, "Subscribe failed")
	}
	defer stream.Close()

	for stream.Receive() {
		f, err := islandv1.FrameFromStruct(stream.Msg())
		if err != nil {
			return err
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		return errors.Wrap(err, "subscription ended")
	}
	return nil
}
