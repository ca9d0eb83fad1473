// Package pgstore is a Postgres-backed implementation of provisioner.Store,
// written against pgx/v5 directly (no generated query layer).
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nimbus-provisioner/provisioner/pkg/provisioner"
)

// Store wraps a pgxpool.Pool.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) PutRecord(ctx context.Context, node provisioner.NodeRecord, newState *provisioner.State) error {
	return s.PutRecords(ctx, []provisioner.NodeRecord{node}, newState)
}

func (s *Store) PutRecords(ctx context.Context, nodes []provisioner.NodeRecord, newState *provisioner.State) error {
	if len(nodes) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, n := range nodes {
		if newState != nil {
			n.State = *newState
		}
		extra, err := json.Marshal(n.Extra)
		if err != nil {
			return fmt.Errorf("marshal extra for node %s: %w", n.NodeID, err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO nodes (
				node_id, launch_id, state, state_desc, site, allocation, ctx_name,
				iaas_id, iaas_allocation, iaas_sshkeyname, public_ip, private_ip,
				extra, pubkey, error_code, error_message, creation_timestamp, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,now())
			ON CONFLICT (node_id) DO UPDATE SET
				state = EXCLUDED.state,
				state_desc = EXCLUDED.state_desc,
				site = EXCLUDED.site,
				allocation = EXCLUDED.allocation,
				ctx_name = EXCLUDED.ctx_name,
				iaas_id = EXCLUDED.iaas_id,
				iaas_allocation = EXCLUDED.iaas_allocation,
				iaas_sshkeyname = EXCLUDED.iaas_sshkeyname,
				public_ip = EXCLUDED.public_ip,
				private_ip = EXCLUDED.private_ip,
				extra = EXCLUDED.extra,
				pubkey = EXCLUDED.pubkey,
				error_code = EXCLUDED.error_code,
				error_message = EXCLUDED.error_message,
				updated_at = now()
		`, n.NodeID, n.LaunchID, int(n.State), n.StateDesc, n.Site, n.Allocation, n.CtxName,
			n.IaaSID, n.IaaSAllocation, n.IaaSSSHKeyName, n.PublicIP, n.PrivateIP,
			extra, n.Pubkey, n.ErrorCode, n.ErrorMessage, n.CreationTimestamp)
		if err != nil {
			return fmt.Errorf("upsert node %s: %w", n.NodeID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) PutLaunch(ctx context.Context, launch provisioner.LaunchRecord) error {
	var ctxURI *string
	if launch.Context != nil {
		ctxURI = &launch.Context.URI
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO launches (launch_id, deployable_type, document, subscribers, state, state_desc, context_uri, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
		ON CONFLICT (launch_id) DO UPDATE SET
			deployable_type = EXCLUDED.deployable_type,
			document = EXCLUDED.document,
			subscribers = EXCLUDED.subscribers,
			state = EXCLUDED.state,
			state_desc = EXCLUDED.state_desc,
			context_uri = EXCLUDED.context_uri,
			updated_at = now()
	`, launch.LaunchID, launch.DeployableType, launch.Document, launch.Subscribers, int(launch.State), launch.StateDesc, ctxURI)
	if err != nil {
		return fmt.Errorf("upsert launch %s: %w", launch.LaunchID, err)
	}
	return nil
}

func (s *Store) GetLaunch(ctx context.Context, launchID string) (provisioner.LaunchRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT launch_id, deployable_type, document, subscribers, state, state_desc, context_uri
		FROM launches WHERE launch_id = $1
	`, launchID)

	l, err := scanLaunch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return provisioner.LaunchRecord{}, provisioner.ErrLaunchNotFound
	}
	if err != nil {
		return provisioner.LaunchRecord{}, fmt.Errorf("get launch %s: %w", launchID, err)
	}
	return l, nil
}

func (s *Store) GetLaunches(ctx context.Context, state *provisioner.State) ([]provisioner.LaunchRecord, error) {
	var rows pgx.Rows
	var err error
	if state != nil {
		rows, err = s.pool.Query(ctx, `
			SELECT launch_id, deployable_type, document, subscribers, state, state_desc, context_uri
			FROM launches WHERE state = $1 ORDER BY launch_id
		`, int(*state))
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT launch_id, deployable_type, document, subscribers, state, state_desc, context_uri
			FROM launches ORDER BY launch_id
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("query launches: %w", err)
	}
	defer rows.Close()

	var out []provisioner.LaunchRecord
	for rows.Next() {
		l, err := scanLaunch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan launch: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) GetLaunchNodes(ctx context.Context, launchID string) ([]provisioner.NodeRecord, error) {
	rows, err := s.pool.Query(ctx, nodeSelectQuery+` WHERE launch_id = $1 ORDER BY node_id`, launchID)
	if err != nil {
		return nil, fmt.Errorf("query launch nodes: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

func (s *Store) GetSiteNodes(ctx context.Context, site string, beforeState provisioner.State) ([]provisioner.NodeRecord, error) {
	rows, err := s.pool.Query(ctx, nodeSelectQuery+` WHERE site = $1 AND state < $2 ORDER BY node_id`, site, int(beforeState))
	if err != nil {
		return nil, fmt.Errorf("query site nodes: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

func (s *Store) GetNodesByID(ctx context.Context, ids []string) ([]*provisioner.NodeRecord, error) {
	rows, err := s.pool.Query(ctx, nodeSelectQuery+` WHERE node_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query nodes by id: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]provisioner.NodeRecord)
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		byID[n.NodeID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*provisioner.NodeRecord, len(ids))
	for i, id := range ids {
		if n, ok := byID[id]; ok {
			copied := n
			out[i] = &copied
		}
	}
	return out, nil
}

func (s *Store) Sites(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT site FROM nodes ORDER BY site`)
	if err != nil {
		return nil, fmt.Errorf("query sites: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var site string
		if err := rows.Scan(&site); err != nil {
			return nil, err
		}
		out = append(out, site)
	}
	return out, rows.Err()
}

const nodeSelectQuery = `
	SELECT node_id, launch_id, state, state_desc, site, allocation, ctx_name,
	       iaas_id, iaas_allocation, iaas_sshkeyname, public_ip, private_ip,
	       extra, pubkey, error_code, error_message, creation_timestamp
	FROM nodes`

type scannable interface {
	Scan(dest ...any) error
}

func scanNode(row scannable) (provisioner.NodeRecord, error) {
	var n provisioner.NodeRecord
	var state int
	var extra []byte

	err := row.Scan(
		&n.NodeID, &n.LaunchID, &state, &n.StateDesc, &n.Site, &n.Allocation, &n.CtxName,
		&n.IaaSID, &n.IaaSAllocation, &n.IaaSSSHKeyName, &n.PublicIP, &n.PrivateIP,
		&extra, &n.Pubkey, &n.ErrorCode, &n.ErrorMessage, &n.CreationTimestamp,
	)
	if err != nil {
		return provisioner.NodeRecord{}, err
	}
	n.State = provisioner.State(state)

	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &n.Extra); err != nil {
			return provisioner.NodeRecord{}, fmt.Errorf("unmarshal extra: %w", err)
		}
	}
	return n, nil
}

func scanNodes(rows pgx.Rows) ([]provisioner.NodeRecord, error) {
	var out []provisioner.NodeRecord
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanLaunch(row scannable) (provisioner.LaunchRecord, error) {
	var l provisioner.LaunchRecord
	var state int
	var ctxURI *string

	err := row.Scan(&l.LaunchID, &l.DeployableType, &l.Document, &l.Subscribers, &state, &l.StateDesc, &ctxURI)
	if err != nil {
		return provisioner.LaunchRecord{}, err
	}
	l.State = provisioner.State(state)
	if ctxURI != nil {
		l.Context = &provisioner.LaunchContext{URI: *ctxURI}
	}
	return l, nil
}
