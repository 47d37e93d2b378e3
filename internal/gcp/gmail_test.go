package gcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Lllllllleong/emailnfewarehouse/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

func TestTrimToThreads(t *testing.T) {
	refs := []models.MessageRef{
		{ID: "m5", ThreadID: "t3"},
		{ID: "m1", ThreadID: "t1"},
		{ID: "m3", ThreadID: "t2"},
		{ID: "m2", ThreadID: "t1"},
		{ID: "m4", ThreadID: "t2"},
	}

	got := trimToThreads(refs, 3)
	var ids []string
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, ids, "the t2 thread is kept whole")

	assert.Len(t, trimToThreads(refs, 10), 5)
	assert.Empty(t, trimToThreads(nil, 3))
}

func TestCollectAttachments(t *testing.T) {
	payload := &gmail.MessagePart{
		MimeType: "multipart/mixed",
		Parts: []*gmail.MessagePart{
			{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: "aGVsbG8="}},
			{
				MimeType: "multipart/alternative",
				Parts: []*gmail.MessagePart{
					{Filename: "NFe1.xml", MimeType: "application/xml", Body: &gmail.MessagePartBody{AttachmentId: "a1", Size: 1200}},
				},
			},
			{Filename: "small.xml", MimeType: "text/xml", Body: &gmail.MessagePartBody{Data: "PGEvPg=="}},
			{Filename: "empty.pdf", Body: &gmail.MessagePartBody{}},
		},
	}

	got := collectAttachments(payload, nil)
	require.Len(t, got, 2)
	assert.Equal(t, "a1", got[0].AttachmentID)
	assert.Equal(t, int64(1200), got[0].Size)
	assert.Equal(t, "small.xml", got[1].Filename)
	assert.Equal(t, "PGEvPg==", got[1].InlineData)
}

func newTestMailbox(t *testing.T, handler http.Handler) *Mailbox {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	svc, err := gmail.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return NewMailbox(svc, 100)
}

func TestMailbox_ListCandidatesPaginates(t *testing.T) {
	var queries []string
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.Query().Get("q"))
		assert.Equal(t, "Label_1", r.URL.Query().Get("labelIds"))
		resp := gmail.ListMessagesResponse{}
		if r.URL.Query().Get("pageToken") == "" {
			resp.Messages = []*gmail.Message{{Id: "m2", ThreadId: "t2"}, {Id: "m1", ThreadId: "t1"}}
			resp.NextPageToken = "next"
		} else {
			resp.Messages = []*gmail.Message{{Id: "m3", ThreadId: "t1"}}
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mb := newTestMailbox(t, mux)

	refs, err := mb.ListCandidates(context.Background(), "Label_1", "has:attachment", 1)
	require.NoError(t, err)
	assert.Equal(t, []models.MessageRef{{ID: "m1", ThreadID: "t1"}, {ID: "m3", ThreadID: "t1"}}, refs)
	assert.Equal(t, []string{"has:attachment", "has:attachment"}, queries)
}

func TestMailbox_GetMessageAndAttachment(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages/m1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(gmail.Message{
			Id:       "m1",
			ThreadId: "t1",
			Payload: &gmail.MessagePart{
				Headers: []*gmail.MessagePartHeader{{Name: "Subject", Value: "NF-e 4521"}},
				Parts: []*gmail.MessagePart{
					{Filename: "NFe1.xml", Body: &gmail.MessagePartBody{AttachmentId: "a1"}},
				},
			},
		})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/m1/attachments/a1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(gmail.MessagePartBody{Data: "PG5mZVByb2MvPg"})
	})
	mb := newTestMailbox(t, mux)

	msg, err := mb.GetMessage(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "NF-e 4521", msg.Subject)
	require.Len(t, msg.Attachments, 1)

	raw, err := mb.GetAttachment(context.Background(), "m1", msg.Attachments[0])
	require.NoError(t, err)
	assert.Equal(t, "PG5mZVByb2MvPg", raw.EncodedBody)
	assert.Equal(t, "NFe1.xml", raw.Filename)
}

func TestMailbox_TransitionLabel(t *testing.T) {
	var got gmail.ModifyMessageRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages/m1/modify", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(gmail.Message{Id: "m1"})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/m2/modify", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":500,"message":"backend"}}`, http.StatusInternalServerError)
	})
	mb := newTestMailbox(t, mux)

	require.NoError(t, mb.TransitionLabel(context.Background(), "m1", "Label_1", "Label_2"))
	assert.Equal(t, []string{"Label_2"}, got.AddLabelIds)
	assert.Equal(t, []string{"Label_1"}, got.RemoveLabelIds)

	err := mb.TransitionLabel(context.Background(), "m2", "Label_1", "Label_2")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "m2"))
}
