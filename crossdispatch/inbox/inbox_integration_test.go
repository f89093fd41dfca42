package inbox

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/session"
	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/utils/testutils"
)

func newIntegrationInbox(t *testing.T) *PgInbox {
	pool := testutils.NewPgxSessionPool(t)
	table := fmt.Sprintf("webhook_inbox_test_%d", time.Now().UnixNano())
	inbox := NewInbox(pool, table, time.Minute)
	require.NoError(t, inbox.Setup(context.Background()))
	t.Cleanup(func() {
		_ = pool.Session(context.Background(), func(s session.Session) error {
			_, err := s.(session.DbSession).Connection().Exec("DROP TABLE IF EXISTS " + table)
			return err
		})
	})
	return inbox
}

func TestIntegrationDeliveryLifecycle(t *testing.T) {
	inbox := newIntegrationInbox(t)
	ctx := context.Background()

	first, err := inbox.FirstDelivery(ctx, "payments", "evt-1")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = inbox.FirstDelivery(ctx, "payments", "evt-1")
	require.NoError(t, err)
	assert.False(t, first, "redelivery is a duplicate")

	first, err = inbox.FirstDelivery(ctx, "storefront", "evt-1")
	require.NoError(t, err)
	assert.True(t, first, "ids are scoped per source")

	require.NoError(t, inbox.Forget(ctx, "payments", "evt-1"))
	first, err = inbox.FirstDelivery(ctx, "payments", "evt-1")
	require.NoError(t, err)
	assert.True(t, first, "forgotten delivery is accepted again")
}

func TestIntegrationExpiredReceiptIsReplaced(t *testing.T) {
	inbox := newIntegrationInbox(t)
	ctx := context.Background()
	start := time.Now().UTC()
	inbox.now = func() time.Time { return start }

	first, err := inbox.FirstDelivery(ctx, "payments", "evt-1")
	require.NoError(t, err)
	require.True(t, first)

	inbox.now = func() time.Time { return start.Add(2 * time.Minute) }
	first, err = inbox.FirstDelivery(ctx, "payments", "evt-1")
	require.NoError(t, err)
	assert.True(t, first)

	inbox.now = func() time.Time { return start.Add(10 * time.Minute) }
	removed, err := inbox.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}
