package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-chat/internal/core/domain"
)

// capturedRequest holds what the fake Graph API received
type capturedRequest struct {
	path  string
	token string
	body  SendMessageRequest
}

func newGraphServer(t *testing.T, status int, response string, captured *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			captured.path = r.URL.Path
			captured.token = r.URL.Query().Get("access_token")
			if r.Method == http.MethodPost {
				raw, _ := io.ReadAll(r.Body)
				_ = json.Unmarshal(raw, &captured.body)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(baseURL string) *FacebookClient {
	return NewFacebookClient(FacebookClientConfig{BaseURL: baseURL, APIVersion: "v19.0"})
}

func TestSend_TextWithQuickReplies(t *testing.T) {
	var captured capturedRequest
	srv := newGraphServer(t, http.StatusOK, `{"recipient_id":"PSID_1","message_id":"m_out"}`, &captured)
	client := newTestClient(srv.URL)

	err := client.Send(context.Background(), "page-token", domain.SendTarget{RecipientID: "PSID_1"}, domain.Outbound{
		Text: "Сайн байна уу!",
		QuickReplies: []domain.QuickReply{
			{Title: "Бүтээгдэхүүн үзэх нь маш сонирхолтой"},
			{Title: "Сагс", Payload: "VIEW_CART"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "/v19.0/me/messages", captured.path)
	assert.Equal(t, "page-token", captured.token)
	assert.Equal(t, "PSID_1", captured.body.Recipient.ID)
	assert.Equal(t, "RESPONSE", captured.body.MessagingType)
	require.NotNil(t, captured.body.Message)
	assert.Equal(t, "Сайн байна уу!", captured.body.Message.Text)
	require.Len(t, captured.body.Message.QuickReplies, 2)
	assert.Equal(t, "Бүтээгдэхүүн үзэх нь", captured.body.Message.QuickReplies[0].Title)
	assert.Equal(t, "Бүтээгдэхүүн үзэх нь маш сонирхолтой", captured.body.Message.QuickReplies[0].Payload)
	assert.Equal(t, "VIEW_CART", captured.body.Message.QuickReplies[1].Payload)
}

func TestSend_CommentUsesPrivateReply(t *testing.T) {
	var captured capturedRequest
	srv := newGraphServer(t, http.StatusOK, `{}`, &captured)

	err := newTestClient(srv.URL).Send(context.Background(), "page-token",
		domain.SendTarget{RecipientID: "USER_9", CommentID: "C_1"},
		domain.Outbound{Text: "Inbox-оор хариуллаа"})

	require.NoError(t, err)
	assert.Equal(t, "C_1", captured.body.Recipient.CommentID)
	assert.Empty(t, captured.body.Recipient.ID)
}

func TestSend_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		response string
		expected error
	}{
		{"expired token", http.StatusBadRequest, `{"error":{"message":"Session expired","code":190}}`, ErrTokenExpired},
		{"rate limited", http.StatusBadRequest, `{"error":{"message":"Too many calls","code":613}}`, ErrRateLimited},
		{"permission", http.StatusForbidden, `{"error":{"message":"Missing permission","code":200}}`, ErrPermissionDenied},
		{"invalid parameter", http.StatusBadRequest, `{"error":{"message":"bad id","code":100}}`, errInvalidRequest},
		{"unparseable client error", http.StatusBadRequest, `not json`, errInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.response))
			}))
			defer srv.Close()

			err := newTestClient(srv.URL).Send(context.Background(), "page-token",
				domain.SendTarget{RecipientID: "PSID_1"}, domain.Outbound{Text: "hi"})

			assert.ErrorIs(t, err, tt.expected)
			assert.Equal(t, int32(1), calls.Load(), "platform errors are not retried")
		})
	}
}

func TestSend_ExpiredTokenIsTokenRejected(t *testing.T) {
	assert.True(t, errors.Is(ErrTokenExpired, domain.ErrTokenRejected))
}

func TestSend_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"message_id":"m_out"}`))
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).Send(context.Background(), "page-token",
		domain.SendTarget{RecipientID: "PSID_1"}, domain.Outbound{Text: "hi"})

	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSend_CancelledContextStopsRetry(t *testing.T) {
	srv := newGraphServer(t, http.StatusInternalServerError, `{}`, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newTestClient(srv.URL).Send(ctx, "page-token",
		domain.SendTarget{RecipientID: "PSID_1"}, domain.Outbound{Text: "hi"})

	assert.Error(t, err)
}

func TestSendAction(t *testing.T) {
	var captured capturedRequest
	srv := newGraphServer(t, http.StatusOK, `{}`, &captured)

	err := newTestClient(srv.URL).SendAction(context.Background(), "page-token", "PSID_1", domain.SenderActionTypingOn)

	require.NoError(t, err)
	assert.Equal(t, "typing_on", captured.body.SenderAction)
	assert.Nil(t, captured.body.Message)
}

func TestFetchProfile(t *testing.T) {
	tests := []struct {
		name     string
		platform domain.Platform
		response string
		expected string
		fields   string
	}{
		{"messenger first and last", domain.PlatformFacebook, `{"first_name":"Бат","last_name":"Дорж"}`, "Бат Дорж", "first_name,last_name"},
		{"instagram name", domain.PlatformInstagram, `{"name":"Saraa","username":"saraa_mn"}`, "Saraa", "name,username"},
		{"instagram username only", domain.PlatformInstagram, `{"username":"saraa_mn"}`, "saraa_mn", "name,username"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fields, path string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fields = r.URL.Query().Get("fields")
				path = r.URL.Path
				_, _ = w.Write([]byte(tt.response))
			}))
			defer srv.Close()

			profile, err := newTestClient(srv.URL).FetchProfile(context.Background(), tt.platform, "page-token", "USER_1")

			require.NoError(t, err)
			assert.Equal(t, tt.expected, profile.Name)
			assert.Equal(t, tt.fields, fields)
			assert.Equal(t, "/v19.0/USER_1", path)
		})
	}
}

func TestBuildMessage_Gallery(t *testing.T) {
	cards := make([]domain.ProductCard, 12)
	for i := range cards {
		cards[i] = domain.ProductCard{Name: "Хар цамц", Price: 35000, ImageURL: "https://cdn.example.com/1.jpg"}
	}

	msg := buildMessage(domain.Outbound{Gallery: cards, Confirm: true})

	require.NotNil(t, msg.Attachment)
	assert.Equal(t, "template", msg.Attachment.Type)
	assert.Equal(t, "generic", msg.Attachment.Payload.TemplateType)
	assert.Len(t, msg.Attachment.Payload.Elements, MaxGenericElements)
	require.Len(t, msg.Attachment.Payload.Elements[0].Buttons, 1)
	assert.Equal(t, "postback", msg.Attachment.Payload.Elements[0].Buttons[0].Type)
	assert.Equal(t, "Хар цамц авмаар байна", msg.Attachment.Payload.Elements[0].Buttons[0].Payload)
}

func TestBuildMessage_SingleImage(t *testing.T) {
	msg := buildMessage(domain.Outbound{ImageURL: "https://cdn.example.com/1.jpg"})

	require.NotNil(t, msg.Attachment)
	assert.Equal(t, "image", msg.Attachment.Type)
	assert.True(t, msg.Attachment.Payload.IsReusable)
	assert.Empty(t, msg.Text)
}

func TestBuildMessage_QuickReplyLimit(t *testing.T) {
	var replies []domain.QuickReply
	for i := 0; i < 20; i++ {
		replies = append(replies, domain.QuickReply{Title: "Тийм"})
	}

	msg := buildMessage(domain.Outbound{Text: strings.Repeat("а", MaxTextLength+50), QuickReplies: replies})

	assert.Len(t, msg.QuickReplies, MaxQuickReplies)
	assert.Len(t, []rune(msg.Text), MaxTextLength)
}

func TestTruncateTitle(t *testing.T) {
	assert.Equal(t, "Сагс", TruncateTitle("Сагс"))
	assert.Equal(t, 20, len([]rune(TruncateTitle("Энэ бол хорин тэмдэгтээс урт гарчиг"))))
	assert.Equal(t, "", TruncateTitle(""))
}

func TestLimiter_PerToken(t *testing.T) {
	client := newTestClient("http://unused")

	a := client.limiter("token-a")
	assert.Same(t, a, client.limiter("token-a"))
	assert.NotSame(t, a, client.limiter("token-b"))
}
