package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumeo-app/lumeo/internal/domain"
)

type fakeStore struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*domain.Conversation
	persisted     map[uuid.UUID][]domain.Message
	failAppend    bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversations: make(map[uuid.UUID]*domain.Conversation),
		persisted:     make(map[uuid.UUID][]domain.Message),
	}
}

func (s *fakeStore) CreateConversation(_ context.Context, userID, title string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := &domain.Conversation{ID: uuid.New(), UserID: userID, Title: title, CreatedAt: time.Now()}
	s.conversations[conv.ID] = conv
	return conv, nil
}

func (s *fakeStore) GetConversation(_ context.Context, userID string, id uuid.UUID) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok || conv.UserID != userID {
		return nil, domain.ErrConversationNotFound
	}
	return conv, nil
}

func (s *fakeStore) AppendMessage(_ context.Context, conversationID uuid.UUID, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppend {
		return errors.New("disk full")
	}
	s.persisted[conversationID] = append(s.persisted[conversationID], domain.Message{Role: role, Content: content})
	return nil
}

func (s *fakeStore) LoadMessages(_ context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]domain.Message, len(s.persisted[conversationID]))
	copy(msgs, s.persisted[conversationID])
	return msgs, nil
}

func (s *fakeStore) ListConversations(_ context.Context, userID string) ([]domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var convs []domain.Conversation
	for _, c := range s.conversations {
		if c.UserID == userID {
			convs = append(convs, *c)
		}
	}
	return convs, nil
}

func (s *fakeStore) DeleteConversation(_ context.Context, userID string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok || conv.UserID != userID {
		return domain.ErrConversationNotFound
	}
	delete(s.conversations, id)
	delete(s.persisted, id)
	return nil
}

func (s *fakeStore) ArchiveConversation(_ context.Context, userID string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok || conv.UserID != userID {
		return domain.ErrConversationNotFound
	}
	conv.Archived = true
	return nil
}

func (s *fakeStore) RenameConversation(_ context.Context, userID string, id uuid.UUID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok || conv.UserID != userID {
		return domain.ErrConversationNotFound
	}
	conv.Title = title
	return nil
}

func (s *fakeStore) persistedMessages(id uuid.UUID) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]domain.Message, len(s.persisted[id]))
	copy(msgs, s.persisted[id])
	return msgs
}

func (s *fakeStore) conversationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

type fakeStreamer struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, history []domain.Message, onDelta func(string)) (*StreamResult, error)
}

func (f *fakeStreamer) Stream(ctx context.Context, history []domain.Message, onDelta func(string)) (*StreamResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(ctx, history, onDelta)
}

func (f *fakeStreamer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestController(store *fakeStore, streamer *fakeStreamer) *ChatController {
	return NewChatController("user-1", store, streamer, NewCrisisDetector(), nil)
}

func TestSendTurnHappyPath(t *testing.T) {
	store := newFakeStore()

	var historySeen []domain.Message
	var persistedBeforeStream []domain.Message
	streamer := &fakeStreamer{fn: func(_ context.Context, history []domain.Message, onDelta func(string)) (*StreamResult, error) {
		historySeen = history
		for id := range store.persisted {
			persistedBeforeStream = store.persistedMessages(id)
		}
		onDelta("Trink")
		onDelta(" mehr Wasser.")
		return &StreamResult{}, nil
	}}

	ctrl := newTestController(store, streamer)

	err := ctrl.SendTurn(context.Background(), "Wie verbessere ich meine Haut?", nil)
	require.NoError(t, err)

	// User message was durable before the stream started.
	require.Len(t, persistedBeforeStream, 1)
	assert.Equal(t, domain.RoleUser, persistedBeforeStream[0].Role)
	assert.Equal(t, "Wie verbessere ich meine Haut?", persistedBeforeStream[0].Content)

	// The transport saw the user turn, not the placeholder.
	require.Len(t, historySeen, 1)
	assert.Equal(t, domain.RoleUser, historySeen[0].Role)

	msgs := ctrl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Trink mehr Wasser.", msgs[1].Content)
	assert.False(t, msgs[1].IsStreaming)

	convID := ctrl.ActiveConversationID()
	require.NotNil(t, convID)
	persisted := store.persistedMessages(*convID)
	require.Len(t, persisted, 2)
	assert.Equal(t, domain.Message{Role: domain.RoleAssistant, Content: "Trink mehr Wasser."}, persisted[1])
	assert.False(t, ctrl.Flagged())
}

func TestSendTurnRejectsEmptyText(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{fn: func(context.Context, []domain.Message, func(string)) (*StreamResult, error) {
		t.Fatal("transport must not be called")
		return nil, nil
	}}
	ctrl := newTestController(store, streamer)

	for _, text := range []string{"", "   ", "\n\t "} {
		err := ctrl.SendTurn(context.Background(), text, nil)
		assert.ErrorIs(t, err, domain.ErrEmptyMessage)
	}

	assert.Empty(t, ctrl.Messages())
	assert.Equal(t, 0, store.conversationCount())
}

func TestSendTurnRejectsConcurrentTurn(t *testing.T) {
	store := newFakeStore()

	streaming := make(chan struct{})
	release := make(chan struct{})
	streamer := &fakeStreamer{fn: func(ctx context.Context, _ []domain.Message, onDelta func(string)) (*StreamResult, error) {
		close(streaming)
		<-release
		onDelta("fertig")
		return &StreamResult{}, nil
	}}

	ctrl := newTestController(store, streamer)

	done := make(chan error, 1)
	go func() {
		done <- ctrl.SendTurn(context.Background(), "erste Frage", nil)
	}()

	<-streaming
	before := ctrl.Messages()

	err := ctrl.SendTurn(context.Background(), "zweite Frage", nil)
	assert.ErrorIs(t, err, domain.ErrTurnInProgress)
	assert.Equal(t, before, ctrl.Messages())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, streamer.callCount())
}

func TestStopPreservesPartialContent(t *testing.T) {
	store := newFakeStore()

	received := make(chan struct{})
	streamer := &fakeStreamer{fn: func(ctx context.Context, _ []domain.Message, onDelta func(string)) (*StreamResult, error) {
		onDelta("Trink")
		onDelta(" mehr")
		close(received)
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	ctrl := newTestController(store, streamer)

	done := make(chan error, 1)
	go func() {
		done <- ctrl.SendTurn(context.Background(), "Wie viel Wasser?", nil)
	}()

	<-received
	ctrl.Stop()

	// Cancellation is not an error; the partial answer is kept.
	require.NoError(t, <-done)

	msgs := ctrl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Trink mehr", msgs[1].Content)
	assert.False(t, msgs[1].IsStreaming)

	persisted := store.persistedMessages(*ctrl.ActiveConversationID())
	require.Len(t, persisted, 2)
	assert.Equal(t, "Trink mehr", persisted[1].Content)
}

func TestErroredTurnRemovesPlaceholder(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{fn: func(context.Context, []domain.Message, func(string)) (*StreamResult, error) {
		return nil, &HTTPError{Status: http.StatusInternalServerError, Message: "upstream failure"}
	}}

	ctrl := newTestController(store, streamer)

	err := ctrl.SendTurn(context.Background(), "Hilfe bei trockener Haut", nil)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusInternalServerError, httpErr.Status)

	// The placeholder is gone; the user's own message stays, in memory
	// and in the store.
	msgs := ctrl.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)

	persisted := store.persistedMessages(*ctrl.ActiveConversationID())
	require.Len(t, persisted, 1)
	assert.Equal(t, domain.RoleUser, persisted[0].Role)
}

func TestDoneWithoutDeltasFinalizesEmptyMessage(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{fn: func(context.Context, []domain.Message, func(string)) (*StreamResult, error) {
		return &StreamResult{}, nil
	}}

	ctrl := newTestController(store, streamer)

	require.NoError(t, ctrl.SendTurn(context.Background(), "Hallo", nil))

	msgs := ctrl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "", msgs[1].Content)
	assert.False(t, msgs[1].IsStreaming)

	persisted := store.persistedMessages(*ctrl.ActiveConversationID())
	require.Len(t, persisted, 2)
	assert.Equal(t, "", persisted[1].Content)
}

func TestCrisisFlagOnUserInput(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{fn: func(_ context.Context, _ []domain.Message, onDelta func(string)) (*StreamResult, error) {
		onDelta("Das klingt belastend.")
		return &StreamResult{}, nil
	}}

	ctrl := newTestController(store, streamer)

	require.NoError(t, ctrl.SendTurn(context.Background(), "Ich habe Depressionen", nil))
	assert.True(t, ctrl.Flagged())

	// The next clean turn clears the flag.
	require.NoError(t, ctrl.SendTurn(context.Background(), "Und was hilft gegen Pickel?", nil))
	assert.False(t, ctrl.Flagged())
}

func TestCrisisFlagOnAssistantOutput(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{fn: func(_ context.Context, _ []domain.Message, onDelta func(string)) (*StreamResult, error) {
		onDelta("Bei einer Panikattacke hilft ruhiges Atmen.")
		return &StreamResult{}, nil
	}}

	ctrl := newTestController(store, streamer)

	require.NoError(t, ctrl.SendTurn(context.Background(), "Mein Herz rast manchmal", nil))
	assert.True(t, ctrl.Flagged())
}

func TestSwitchToLoadsStoredMessagesVerbatim(t *testing.T) {
	store := newFakeStore()
	conv, err := store.CreateConversation(context.Background(), "user-1", "Hautpflege")
	require.NoError(t, err)
	require.NoError(t, store.AppendMessage(context.Background(), conv.ID, domain.RoleUser, "Hallo"))
	require.NoError(t, store.AppendMessage(context.Background(), conv.ID, domain.RoleAssistant, "Hallo! Wie kann ich helfen?"))

	streamer := &fakeStreamer{fn: func(_ context.Context, history []domain.Message, onDelta func(string)) (*StreamResult, error) {
		assert.Len(t, history, 3)
		onDelta("Gerne.")
		return &StreamResult{}, nil
	}}

	ctrl := newTestController(store, streamer)

	require.NoError(t, ctrl.SwitchTo(context.Background(), conv.ID))

	msgs := ctrl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hallo", msgs[0].Content)
	assert.Equal(t, "Hallo! Wie kann ich helfen?", msgs[1].Content)

	// A follow-up turn appends to the switched conversation.
	require.NoError(t, ctrl.SendTurn(context.Background(), "Danke!", nil))
	assert.Equal(t, conv.ID, *ctrl.ActiveConversationID())
	assert.Len(t, store.persistedMessages(conv.ID), 4)
	assert.Equal(t, 1, store.conversationCount())
}

func TestSwitchToUnknownConversation(t *testing.T) {
	ctrl := newTestController(newFakeStore(), &fakeStreamer{})

	err := ctrl.SwitchTo(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestNewConversationStartsFreshSession(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{fn: func(_ context.Context, _ []domain.Message, onDelta func(string)) (*StreamResult, error) {
		onDelta("ok")
		return &StreamResult{}, nil
	}}

	ctrl := newTestController(store, streamer)

	require.NoError(t, ctrl.SendTurn(context.Background(), "erste Unterhaltung", nil))
	first := *ctrl.ActiveConversationID()

	require.NoError(t, ctrl.NewConversation())
	assert.Empty(t, ctrl.Messages())
	assert.Nil(t, ctrl.ActiveConversationID())

	require.NoError(t, ctrl.SendTurn(context.Background(), "zweite Unterhaltung", nil))
	second := *ctrl.ActiveConversationID()

	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, store.conversationCount())
}

func TestPersistFailureKeepsInMemoryState(t *testing.T) {
	store := newFakeStore()
	store.failAppend = true

	streamer := &fakeStreamer{fn: func(_ context.Context, _ []domain.Message, onDelta func(string)) (*StreamResult, error) {
		onDelta("Antwort")
		return &StreamResult{}, nil
	}}

	ctrl := newTestController(store, streamer)

	// Best-effort durability: the turn still completes.
	require.NoError(t, ctrl.SendTurn(context.Background(), "Hallo", nil))

	msgs := ctrl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Antwort", msgs[1].Content)
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "Wie verbessere ich meine Haut?", deriveTitle("Wie verbessere ich meine Haut?"))
	assert.Equal(t, "viele Leerzeichen werden", deriveTitle("viele   Leerzeichen \n werden"))

	long := deriveTitle("Das ist eine sehr lange erste Nachricht, die gekürzt werden muss, weil sie nicht als Titel taugt")
	assert.LessOrEqual(t, len([]rune(long)), 49)
}
