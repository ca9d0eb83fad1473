package provisioner

import "context"

// storeAndNotify is the single primitive through which every observable
// state change flows. If newState is non-nil, every record's State is set
// before the write. Records are persisted first; the notifier is handed the
// post-write records, so a subscriber can never observe a notification that
// contradicts what was just committed.
func (c *Core) storeAndNotify(ctx context.Context, nodes []NodeRecord, subscribers []string, newState *State) ([]NodeRecord, error) {
	if newState != nil {
		for i := range nodes {
			nodes[i].State = *newState
		}
	}

	if err := c.store.PutRecords(ctx, nodes, nil); err != nil {
		return nil, err
	}

	if err := c.notify.Notify(ctx, subscribers, nodes); err != nil {
		c.logger.Error("notify failed", "error", err, "subscribers", subscribers)
	}

	return nodes, nil
}
