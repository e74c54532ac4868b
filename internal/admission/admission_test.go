package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestResolve(t *testing.T) {
	testCases := []struct {
		name     string
		explicit int
		cores    int
		want     int
		wantErr  bool
	}{
		{name: "explicit wins", explicit: 4, cores: 2, want: 4},
		{name: "explicit one allowed", explicit: 1, cores: 1, want: 1},
		{name: "eight cores", cores: 8, want: 7},
		{name: "three cores", cores: 3, want: 2},
		{name: "two cores rejected", cores: 2, wantErr: true},
		{name: "one core rejected", cores: 1, wantErr: true},
		{name: "negative explicit", explicit: -1, cores: 8, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Resolve(tc.explicit, tc.cores)
			if tc.wantErr {
				var cfgErr *ConfigurationError
				require.ErrorAs(t, err, &cfgErr)
				assert.Equal(t, tc.cores, cfgErr.Cores)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestController_AcquireRelease(t *testing.T) {
	c := New(2)
	ctx := context.Background()

	s1, err := c.Acquire(ctx)
	require.NoError(t, err)
	s2, err := c.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, c.InUse())
	assert.Nil(t, c.TryAcquire())

	s1.Release()
	s1.Release()
	assert.Equal(t, 1, c.InUse())

	s3 := c.TryAcquire()
	require.NotNil(t, s3)
	s2.Release()
	s3.Release()
	assert.Equal(t, 0, c.InUse())
	assert.Equal(t, 2, c.Peak())

	var nilSlot *Slot
	nilSlot.Release()
}

func TestController_AcquireBlocksUntilCancel(t *testing.T) {
	c := New(1)
	held, err := c.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = c.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, c.InUse())
}

func TestController_NeverExceedsCapacity(t *testing.T) {
	const capacity = 3
	c := New(capacity)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := c.Acquire(context.Background())
			if err != nil {
				return
			}
			assert.LessOrEqual(t, c.InUse(), capacity)
			time.Sleep(5 * time.Millisecond)
			s.Release()
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, c.InUse())
	assert.LessOrEqual(t, c.Peak(), capacity)
	assert.Positive(t, c.Peak())
}
