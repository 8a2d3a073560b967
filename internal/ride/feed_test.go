package ride

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedDeliversMatchingRecords(t *testing.T) {
	feed := NewFeed()

	searchingOnly := feed.Subscribe(func(r *Ride) bool { return r.Status == StatusSearching })
	defer searchingOnly.Close()
	everything := feed.Subscribe(func(*Ride) bool { return true })
	defer everything.Close()

	feed.Publish(&Ride{ID: uuid.New(), Status: StatusSearching})
	feed.Publish(&Ride{ID: uuid.New(), Status: StatusAccepted})

	assert.Len(t, drain(searchingOnly.C), 1)
	assert.Len(t, drain(everything.C), 2)
}

func TestFeedCloseDetaches(t *testing.T) {
	feed := NewFeed()

	sub := feed.Subscribe(func(*Ride) bool { return true })
	require.Equal(t, 1, feed.Len())

	sub.Close()
	assert.Equal(t, 0, feed.Len())

	// Close is idempotent.
	sub.Close()

	_, open := <-sub.C
	assert.False(t, open)
}

func TestFeedShedsOldestWhenFull(t *testing.T) {
	feed := NewFeed()
	sub := feed.Subscribe(func(*Ride) bool { return true })
	defer sub.Close()

	first := uuid.New()
	last := uuid.New()

	feed.Publish(&Ride{ID: first, Status: StatusSearching})
	for i := 0; i < 70; i++ {
		feed.Publish(&Ride{ID: uuid.New(), Status: StatusSearching})
	}
	feed.Publish(&Ride{ID: last, Status: StatusSearching})

	got := drain(sub.C)
	require.NotEmpty(t, got)

	// The newest record survives; the oldest was shed.
	assert.Equal(t, last, got[len(got)-1].ID)
	for _, r := range got {
		assert.NotEqual(t, first, r.ID)
	}
}

func drain(ch <-chan *Ride) []*Ride {
	var out []*Ride
	for {
		select {
		case r := <-ch:
			out = append(out, r)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}
