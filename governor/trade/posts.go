package trade

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/parley-chat/parley/governor/scheduler"
)

var (
	ErrPostNotFound = errors.New("trade post not found")
	ErrNotPostOwner = errors.New("trade post belongs to another player")
)

// A time-bounded listing created from an accepted trade message.
type Post struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	OwnerName string    `json:"owner_name"`
	ChannelID string    `json:"channel_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ExpirePost struct {
	ID string
}

func (ExpirePost) Kind() string { return "expire_post" }

func (p *Plugin) register(post *Post) {
	p.posts.Store(post.ID, post)
	activePosts.Inc()
}

func (p *Plugin) Post(id string) (*Post, bool) {
	return p.posts.Load(id)
}

// Active posts in a channel, oldest first. An empty channel id lists every channel.
func (p *Plugin) Posts(channelID string) []*Post {
	var out []*Post
	p.posts.Range(func(_ string, post *Post) bool {
		if channelID == "" || post.ChannelID == channelID {
			out = append(out, post)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Removes a post on behalf of its owner.
func (p *Plugin) CancelPost(ownerID, id string) error {
	var err error
	p.posts.Compute(id, func(post *Post, loaded bool) (*Post, bool) {
		if !loaded {
			err = ErrPostNotFound
			return nil, true
		}
		if post.OwnerID != ownerID {
			err = ErrNotPostOwner
			return post, false
		}
		return nil, true
	})
	if err != nil {
		return fmt.Errorf("cancel post %s: %w", id, err)
	}
	activePosts.Dec()
	p.Logger.Info("trade post canceled", "post", id, "owner", ownerID)
	return nil
}

func (p *Plugin) sweepExpired(now time.Time) []scheduler.Command {
	var cmds []scheduler.Command
	p.posts.Range(func(id string, post *Post) bool {
		if !now.Before(post.ExpiresAt) {
			cmds = append(cmds, ExpirePost{ID: id})
		}
		return true
	})
	return cmds
}

func (p *Plugin) handle(ctx context.Context, cmd scheduler.Command) error {
	switch c := cmd.(type) {
	case ExpirePost:
		return p.expire(ctx, c.ID)
	default:
		return scheduler.UnknownCommand(cmd)
	}
}

// Removal and notification happen at most once per post, even if the command was queued twice or the owner canceled concurrently.
func (p *Plugin) expire(ctx context.Context, id string) error {
	post, ok := p.posts.LoadAndDelete(id)
	if !ok {
		return nil
	}
	activePosts.Dec()
	postsExpired.Inc()
	p.Logger.Info("trade post expired", "post", id, "owner", post.OwnerID)
	if p.Directory == nil {
		return nil
	}
	sess, online := p.Directory.ByID(post.OwnerID)
	if !online {
		return nil
	}
	if err := sess.Send(ctx, fmt.Sprintf("Your trade post in #%s has expired: %s", post.ChannelID, post.Text)); err != nil {
		return fmt.Errorf("notifying owner of expired post: %w", err)
	}
	return nil
}
