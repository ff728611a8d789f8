package notify

import (
	"context"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
)

// Recorder is a Notifier that logs and remembers every announcement instead of
// sending it. It runs the bot without a chat connection and backs tests.
type Recorder struct {
	mu        sync.Mutex
	seq       int
	posted    []Posted
	retracted []string
}

// Posted is an announcement the Recorder accepted.
type Posted struct {
	MessageID string
	Announcement
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Announce(_ context.Context, a Announcement) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	id := "msg-" + strconv.Itoa(r.seq)
	r.posted = append(r.posted, Posted{MessageID: id, Announcement: a})

	log.Info().
		Str("channel_id", a.ChannelID).
		Str("message_id", id).
		Int("buttons", len(a.Buttons)).
		Msg(a.Content)
	return id, nil
}

func (r *Recorder) Retract(_ context.Context, channelID, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.retracted = append(r.retracted, messageID)
	log.Info().Str("channel_id", channelID).Str("message_id", messageID).Msg("retracted")
	return nil
}

// Posted returns every recorded announcement in order.
func (r *Recorder) Posted() []Posted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Posted(nil), r.posted...)
}

// Retracted returns the ids of every retracted message in order.
func (r *Recorder) Retracted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.retracted...)
}

// Last returns the most recent announcement, or false if there is none.
func (r *Recorder) Last() (Posted, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.posted) == 0 {
		return Posted{}, false
	}
	return r.posted[len(r.posted)-1], true
}
