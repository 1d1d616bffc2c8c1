package service

import "sync"

// ControllerRegistry hands out the per-user ChatController, creating it on
// first use. Controllers are long-lived; they hold the user's active
// session between requests.
type ControllerRegistry struct {
	mu     sync.Mutex
	byUser map[string]*ChatController

	store    ConversationStore
	streamer Streamer
	crisis   *CrisisDetector
	usage    *UsageRecorder
}

func NewControllerRegistry(store ConversationStore, streamer Streamer, crisis *CrisisDetector, usage *UsageRecorder) *ControllerRegistry {
	return &ControllerRegistry{
		byUser:   make(map[string]*ChatController),
		store:    store,
		streamer: streamer,
		crisis:   crisis,
		usage:    usage,
	}
}

func (r *ControllerRegistry) Get(userID string) *ChatController {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctrl, ok := r.byUser[userID]
	if !ok {
		ctrl = NewChatController(userID, r.store, r.streamer, r.crisis, r.usage)
		r.byUser[userID] = ctrl
	}
	return ctrl
}
