// Package megalodon provides resilient streaming clients for fediverse
// servers (Mastodon, Pleroma, Friendica and Misskey).
//
// A Stream keeps one timeline subscription alive across network failures,
// parses the WebSocket or server-sent-event wire format, and delivers
// canonical events to subscribers.
//
// Example:
//
//	client := megalodon.NewClient(megalodon.Mastodon, "https://mastodon.social", token)
//
//	stream := client.UserStream()
//	stream.OnUpdate(func(s megalodon.Status) { fmt.Println(s.Content) })
//	stream.OnError(func(err error) { log.Println(err) })
//	stream.Start()
//	defer stream.Stop()
package megalodon

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// ============================================================================
// Provider
// ============================================================================

// Provider selects the server dialect.
type Provider string

const (
	Mastodon  Provider = "mastodon"
	Pleroma   Provider = "pleroma"
	Friendica Provider = "friendica"
	Misskey   Provider = "misskey"
)

const DefaultUserAgent = "megalodon"

// ============================================================================
// Client
// ============================================================================

// Client builds Streams against one server with one access token.
type Client struct {
	provider     Provider
	baseURL      string
	streamingURL string
	accessToken  string
	userAgent    string
	proxyURL     *url.URL
	httpClient   *http.Client
	logger       *slog.Logger
	metrics      *Metrics
	heartbeat    HeartbeatConfig
	policy       ReconnectPolicy
	eventStream  bool
	normalizer   Normalizer
}

type ClientOption func(*Client)

func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// WithProxy routes every connection through proxy. Ignored when
// WithHTTPClient is also given.
func WithProxy(proxy *url.URL) ClientOption {
	return func(c *Client) { c.proxyURL = proxy }
}

// WithHTTPClient replaces the HTTP client used for handshakes and event
// streams. Its Timeout must be zero or long-lived streams will be cut.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithStreamingURL sets the streaming endpoint when it differs from the
// base URL, as advertised by Mastodon's instance API.
func WithStreamingURL(u string) ClientOption {
	return func(c *Client) { c.streamingURL = strings.TrimRight(u, "/") }
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

func WithMetrics(m *Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

func WithHeartbeat(cfg HeartbeatConfig) ClientOption {
	return func(c *Client) { c.heartbeat = cfg }
}

func WithReconnectPolicy(p ReconnectPolicy) ClientOption {
	return func(c *Client) { c.policy = p }
}

// WithEventStream selects the server-sent-events transport instead of
// WebSocket. Only the Mastodon dialect offers it.
func WithEventStream(enabled bool) ClientOption {
	return func(c *Client) { c.eventStream = enabled }
}

// WithNormalizer overrides the provider's normalizer.
func WithNormalizer(n Normalizer) ClientOption {
	return func(c *Client) { c.normalizer = n }
}

// NewClient creates a streaming client. accessToken is a previously
// obtained OAuth credential.
func NewClient(provider Provider, baseURL, accessToken string, opts ...ClientOption) *Client {
	c := &Client{
		provider:    provider,
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		userAgent:   DefaultUserAgent,
		heartbeat:   DefaultHeartbeatConfig(),
		policy:      DefaultReconnectPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if c.proxyURL != nil {
			transport.Proxy = http.ProxyURL(c.proxyURL)
		}
		c.httpClient = &http.Client{Transport: transport}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.normalizer == nil {
		c.normalizer = c.defaultNormalizer()
	}
	return c
}

// Provider returns the server dialect.
func (c *Client) Provider() Provider { return c.provider }

func (c *Client) defaultNormalizer() Normalizer {
	if c.provider == Misskey {
		return MisskeyNormalizer{}
	}
	return MastodonNormalizer{Provider: string(c.provider)}
}

// ============================================================================
// Timelines
// ============================================================================

// TimelineKind names a streamable timeline.
type TimelineKind string

const (
	TimelineUser    TimelineKind = "user"
	TimelinePublic  TimelineKind = "public"
	TimelineLocal   TimelineKind = "local"
	TimelineHashtag TimelineKind = "hashtag"
	TimelineList    TimelineKind = "list"
	TimelineDirect  TimelineKind = "direct"
)

// Timeline describes one subscription.
type Timeline struct {
	Kind   TimelineKind
	Tag    string
	ListID string
	// Local restricts hashtag timelines to the local instance.
	Local bool
}

func (t Timeline) String() string {
	switch t.Kind {
	case TimelineHashtag:
		if t.Local {
			return "hashtag:local:" + t.Tag
		}
		return "hashtag:" + t.Tag
	case TimelineList:
		return "list:" + t.ListID
	default:
		return string(t.Kind)
	}
}

func (c *Client) UserStream() *Stream   { return c.Stream(Timeline{Kind: TimelineUser}) }
func (c *Client) PublicStream() *Stream { return c.Stream(Timeline{Kind: TimelinePublic}) }
func (c *Client) LocalStream() *Stream  { return c.Stream(Timeline{Kind: TimelineLocal}) }
func (c *Client) DirectStream() *Stream { return c.Stream(Timeline{Kind: TimelineDirect}) }

func (c *Client) HashtagStream(tag string, local bool) *Stream {
	return c.Stream(Timeline{Kind: TimelineHashtag, Tag: tag, Local: local})
}

func (c *Client) ListStream(listID string) *Stream {
	return c.Stream(Timeline{Kind: TimelineList, ListID: listID})
}

// Stream creates a stopped Stream for tl. Call Start to connect.
func (c *Client) Stream(tl Timeline) *Stream {
	return NewStream(c.transport(tl), c.normalizer,
		WithStreamName(string(c.provider)+":"+tl.String()),
		WithStreamLogger(c.logger),
		WithStreamMetrics(c.metrics),
		WithStreamHeartbeat(c.heartbeat),
		WithStreamReconnectPolicy(c.policy),
	)
}

func (c *Client) transport(tl Timeline) Transport {
	if c.provider == Misskey {
		return c.misskeyTransport(tl)
	}
	if c.eventStream && c.provider == Mastodon {
		return &EventStreamTransport{
			URL:        c.baseURL + mastodonEventStreamPath(tl),
			Header:     c.header(true),
			HTTPClient: c.httpClient,
		}
	}
	return &SocketTransport{
		URL:        c.mastodonSocketURL(tl),
		Header:     c.header(false),
		HTTPClient: c.httpClient,
	}
}

func (c *Client) header(bearer bool) http.Header {
	h := http.Header{}
	h.Set("User-Agent", c.userAgent)
	if bearer && c.accessToken != "" {
		h.Set("Authorization", "Bearer "+c.accessToken)
	}
	return h
}

// socketBase returns the streaming host with a ws or wss scheme.
func (c *Client) socketBase() string {
	base := c.streamingURL
	if base == "" {
		base = c.baseURL
	}
	base = strings.Replace(base, "https://", "wss://", 1)
	return strings.Replace(base, "http://", "ws://", 1)
}

// ============================================================================
// Mastodon dialect
// ============================================================================

func mastodonStreamName(tl Timeline) string {
	switch tl.Kind {
	case TimelineLocal:
		return "public:local"
	case TimelineHashtag:
		if tl.Local {
			return "hashtag:local"
		}
		return "hashtag"
	default:
		return string(tl.Kind)
	}
}

func mastodonQuery(tl Timeline) url.Values {
	q := url.Values{}
	switch tl.Kind {
	case TimelineHashtag:
		q.Set("tag", tl.Tag)
	case TimelineList:
		q.Set("list", tl.ListID)
	}
	return q
}

func (c *Client) mastodonSocketURL(tl Timeline) string {
	q := mastodonQuery(tl)
	q.Set("stream", mastodonStreamName(tl))
	if c.accessToken != "" {
		q.Set("access_token", c.accessToken)
	}
	return c.socketBase() + "/api/v1/streaming?" + q.Encode()
}

func mastodonEventStreamPath(tl Timeline) string {
	path := "/api/v1/streaming/" + strings.ReplaceAll(mastodonStreamName(tl), ":", "/")
	if q := mastodonQuery(tl); len(q) > 0 {
		path += "?" + q.Encode()
	}
	return path
}

// ============================================================================
// Misskey dialect
// ============================================================================

type misskeyConnect struct {
	Type string             `json:"type"`
	Body misskeyConnectBody `json:"body"`
}

type misskeyConnectBody struct {
	Channel string         `json:"channel"`
	ID      string         `json:"id"`
	Params  map[string]any `json:"params,omitempty"`
}

// misskeyChannels lists the channels a timeline subscribes. The user
// timeline rides on both main (notifications) and homeTimeline (notes)
// under a single channel id.
func misskeyChannels(tl Timeline) []misskeyConnectBody {
	switch tl.Kind {
	case TimelineUser:
		return []misskeyConnectBody{{Channel: "main"}, {Channel: "homeTimeline"}}
	case TimelinePublic:
		return []misskeyConnectBody{{Channel: "globalTimeline"}}
	case TimelineLocal:
		return []misskeyConnectBody{{Channel: "localTimeline"}}
	case TimelineHashtag:
		return []misskeyConnectBody{{Channel: "hashtag", Params: map[string]any{"q": [][]string{{tl.Tag}}}}}
	case TimelineList:
		return []misskeyConnectBody{{Channel: "userList", Params: map[string]any{"listId": tl.ListID}}}
	default:
		return []misskeyConnectBody{{Channel: "main"}}
	}
}

func (c *Client) misskeyTransport(tl Timeline) Transport {
	q := url.Values{}
	if c.accessToken != "" {
		q.Set("i", c.accessToken)
	}
	u := c.socketBase() + "/streaming"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	channels := misskeyChannels(tl)
	return &SocketTransport{
		URL:         u,
		Header:      c.header(false),
		HTTPClient:  c.httpClient,
		Multiplexed: true,
		Subscribe: func(channelID string) []any {
			frames := make([]any, 0, len(channels))
			for _, ch := range channels {
				ch.ID = channelID
				frames = append(frames, misskeyConnect{Type: "connect", Body: ch})
			}
			return frames
		},
	}
}
