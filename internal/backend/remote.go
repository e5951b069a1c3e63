package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charlesng35/schoolx/internal/realtime"
	"github.com/charlesng35/schoolx/internal/services"
)

const (
	defaultRemoteTimeout = 15 * time.Second
	remotePingPeriod     = 30 * time.Second
	remoteWriteWait      = 10 * time.Second
)

var (
	_ Notifications = (*Remote)(nil)
	_ Settings      = (*Remote)(nil)
	_ Feedback      = (*Remote)(nil)
	_ Changes       = (*Remote)(nil)
)

// Remote talks to a schoolx server. The server derives the user from the bearer
// token, so userID arguments only have to be non-empty.
type Remote struct {
	base   *url.URL
	token  string
	client *http.Client
	dialer *websocket.Dialer
}

// RemoteOption customises a Remote.
type RemoteOption func(*Remote)

// WithHTTPClient replaces the default client, which times out after fifteen seconds.
func WithHTTPClient(client *http.Client) RemoteOption {
	return func(r *Remote) {
		if client != nil {
			r.client = client
		}
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(dialer *websocket.Dialer) RemoteOption {
	return func(r *Remote) {
		if dialer != nil {
			r.dialer = dialer
		}
	}
}

func NewRemote(baseURL, token string, opts ...RemoteOption) (*Remote, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("backend: parse server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend: server url must use http or https, got %q", base.Scheme)
	}
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("backend: token is required")
	}

	r := &Remote{
		base:   base,
		token:  strings.TrimSpace(token),
		client: &http.Client{Timeout: defaultRemoteTimeout},
		dialer: &websocket.Dialer{HandshakeTimeout: defaultRemoteTimeout},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (r *Remote) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := *r.base
	endpoint.Path = r.base.Path + path
	endpoint.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return errors.Join(ErrTransport, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= http.StatusInternalServerError {
			return errors.Join(ErrTransport, fmt.Errorf("status %d", resp.StatusCode))
		}
		return errors.Join(ErrTransport, fmt.Errorf("decode response: %w", err))
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return errors.Join(ErrTransport, fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= http.StatusBadRequest || !env.Success {
		apiErr := &APIError{Status: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errors.Join(ErrTransport, fmt.Errorf("decode payload: %w", err))
		}
	}
	return nil
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return &APIError{Status: http.StatusBadRequest, Code: "BAD_REQUEST", Message: "user id is required"}
	}
	return nil
}

func (r *Remote) List(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var payload struct {
		Items []Notification `json:"items"`
	}
	if err := r.do(ctx, http.MethodGet, "/api/notifications", query, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Items, nil
}

func (r *Remote) MarkRead(ctx context.Context, userID, id string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	return r.do(ctx, http.MethodPost, "/api/notifications/"+url.PathEscape(id)+"/read", nil, nil, nil)
}

func (r *Remote) MarkAllRead(ctx context.Context, userID string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	return r.do(ctx, http.MethodPost, "/api/notifications/read-all", nil, nil, nil)
}

func (r *Remote) Delete(ctx context.Context, userID, id string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	return r.do(ctx, http.MethodDelete, "/api/notifications/"+url.PathEscape(id), nil, nil, nil)
}

func (r *Remote) ClearAll(ctx context.Context, userID string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	return r.do(ctx, http.MethodDelete, "/api/notifications", nil, nil, nil)
}

type remoteSettings struct {
	Settings Preferences `json:"settings"`
	Exists   bool        `json:"exists"`
}

func (r *Remote) Get(ctx context.Context, userID string) (Preferences, bool, error) {
	if err := requireUser(userID); err != nil {
		return Preferences{}, false, err
	}
	var payload remoteSettings
	if err := r.do(ctx, http.MethodGet, "/api/notification-settings", nil, nil, &payload); err != nil {
		return Preferences{}, false, err
	}
	return payload.Settings, payload.Exists, nil
}

// Upsert sends the whole record, so the server stores exactly prefs.
func (r *Remote) Upsert(ctx context.Context, userID string, prefs Preferences) (Preferences, error) {
	if err := requireUser(userID); err != nil {
		return Preferences{}, err
	}
	var payload remoteSettings
	if err := r.do(ctx, http.MethodPut, "/api/notification-settings", nil, prefs, &payload); err != nil {
		return Preferences{}, err
	}
	return payload.Settings, nil
}

func (r *Remote) Submit(ctx context.Context, input services.SubmitFeedbackInput) (*FeedbackItem, error) {
	var item FeedbackItem
	if err := r.do(ctx, http.MethodPost, "/api/feedback", nil, input, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *Remote) ListFeedback(ctx context.Context, query FeedbackQuery) ([]FeedbackItem, error) {
	values := url.Values{}
	if query.Status != "" {
		values.Set("status", query.Status)
	}
	if query.Category != "" {
		values.Set("category", query.Category)
	}
	var items []FeedbackItem
	if err := r.do(ctx, http.MethodGet, "/api/feedback", values, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *Remote) Respond(ctx context.Context, input services.RespondFeedbackInput) (*FeedbackItem, error) {
	var item FeedbackItem
	if err := r.do(ctx, http.MethodPatch, "/api/feedback/"+url.PathEscape(input.ID), nil, input, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *Remote) CurrentAnalytics(ctx context.Context, _ string) (*Analytics, error) {
	var dto Analytics
	if err := r.do(ctx, http.MethodGet, "/api/feedback/analytics/current", nil, nil, &dto); err != nil {
		return nil, err
	}
	return &dto, nil
}

// Subscribe dials the realtime endpoint and waits for the subscription acknowledgement.
func (r *Remote) Subscribe(ctx context.Context, userID string, onEvent func(Event), onErr func(error)) (Subscription, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}

	endpoint := *r.base
	switch endpoint.Scheme {
	case "https":
		endpoint.Scheme = "wss"
	default:
		endpoint.Scheme = "ws"
	}
	endpoint.Path = r.base.Path + "/ws"
	endpoint.RawQuery = url.Values{"stream": {realtime.StreamNotifications}}.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+r.token)

	conn, resp, err := r.dialer.DialContext(ctx, endpoint.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError {
			return nil, &APIError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode), Message: err.Error()}
		}
		return nil, errors.Join(ErrTransport, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(defaultRemoteTimeout))
	}
	var ack realtime.Message
	if err := conn.ReadJSON(&ack); err != nil || ack.Event != realtime.EventSubscribed {
		_ = conn.Close()
		if err == nil {
			err = fmt.Errorf("unexpected first frame %q", ack.Event)
		}
		return nil, errors.Join(ErrTransport, err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	sub := &remoteSubscription{conn: conn, stop: make(chan struct{}), done: make(chan struct{})}
	go sub.keepAlive()
	go sub.run(onEvent, onErr)
	return sub, nil
}

type remoteSubscription struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func (s *remoteSubscription) run(onEvent func(Event), onErr func(error)) {
	defer close(s.done)
	for {
		var msg realtime.Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			select {
			case <-s.stop:
			default:
				if onErr != nil {
					onErr(errors.Join(ErrSubscriptionLost, err))
				}
			}
			return
		}
		select {
		case <-s.stop:
			return
		default:
		}
		if event, ok := decodeEvent(msg); ok && onEvent != nil {
			onEvent(event)
		}
	}
}

func (s *remoteSubscription) keepAlive() {
	ticker := time.NewTicker(remotePingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.write(map[string]string{"action": "ping"}); err != nil {
				return
			}
		}
	}
}

func (s *remoteSubscription) write(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(remoteWriteWait))
	return s.conn.WriteJSON(v)
}

func (s *remoteSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(remoteWriteWait))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	<-s.done
	return err
}
