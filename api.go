package hivesync

import (
	"context"
	"fmt"
	"net/url"
	"sort"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/hivedb-io/hivesync/engine"
	"github.com/hivedb-io/hivesync/types"
	"github.com/hivedb-io/hivesync/utils"
)

const (
	loginPath      = "/auth/login"
	registerPath   = "/auth/register"
	cellsPath      = "/cells"
	adminStatsPath = "/admin/stats"
)

// Login authenticates against the service and persists the returned
// credential pair. The stored session backs every subsequent call until
// it expires or Logout clears it.
func (c *Client) Login(ctx context.Context, email, password string) (*types.AuthToken, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}

	result, err := c.engine.Execute(ctx, fasthttp.MethodPost, loginPath, body, nil)
	if err != nil {
		return nil, err
	}

	var token types.AuthToken
	if err := utils.Unmarshal(result.Body, &token); err != nil {
		return nil, types.WrapError(err, "failed to parse login response")
	}

	if err := c.session.Save(token.AccessToken, token.RefreshToken); err != nil {
		return nil, err
	}

	c.logger.Info("Logged in", zap.String("username", token.Username))

	return &token, nil
}

// Register creates a new account. It does not log the account in.
func (c *Client) Register(ctx context.Context, email, username, password string) (*types.Account, error) {
	body := map[string]string{
		"email":    email,
		"username": username,
		"password": password,
	}

	result, err := c.engine.Execute(ctx, fasthttp.MethodPost, registerPath, body, nil)
	if err != nil {
		return nil, err
	}

	var account types.Account
	if err := utils.Unmarshal(result.Body, &account); err != nil {
		return nil, types.WrapError(err, "failed to parse register response")
	}

	return &account, nil
}

// Logout drops the persisted session. It performs no remote call.
func (c *Client) Logout() error {
	return c.session.Clear()
}

// CreateCell provisions a new storage cell and returns its generated key.
// The call needs the keyed response immediately, so it is never deferred
// to the offline queue.
func (c *Client) CreateCell(ctx context.Context, password string) (*types.CellInfo, error) {
	body := map[string]string{"password": password}

	result, err := c.engine.Execute(ctx, fasthttp.MethodPost, cellsPath, body, nil)
	if err != nil {
		return nil, err
	}

	var cell types.CellInfo
	if err := utils.Unmarshal(result.Body, &cell); err != nil {
		return nil, types.WrapError(err, "failed to parse create cell response")
	}

	if _, err := c.cache.InvalidateMatching(engine.InvalidationScope(cellsPath)); err != nil {
		c.logger.Warn("Failed to invalidate cell listings", zap.Error(err))
	}

	return &cell, nil
}

// ListCells returns the cells owned by the current account.
func (c *Client) ListCells(ctx context.Context) ([]types.CellInfo, error) {
	result, err := c.engine.Read(ctx, fasthttp.MethodGet, cellsPath, nil, &types.ReadOptions{UseCache: true})
	if err != nil {
		return nil, err
	}

	var cells []types.CellInfo
	if err := utils.Unmarshal(result.Body, &cells); err != nil {
		return nil, types.WrapError(err, "failed to parse cell listing")
	}

	return cells, nil
}

// CellInfo returns metadata for a single cell.
func (c *Client) CellInfo(ctx context.Context, cellKey string) (*types.CellInfo, error) {
	path := fmt.Sprintf("%s/%s", cellsPath, url.PathEscape(cellKey))

	result, err := c.engine.Read(ctx, fasthttp.MethodGet, path, nil, &types.ReadOptions{UseCache: true})
	if err != nil {
		return nil, err
	}

	var cell types.CellInfo
	if err := utils.Unmarshal(result.Body, &cell); err != nil {
		return nil, types.WrapError(err, "failed to parse cell info")
	}

	return &cell, nil
}

// Keys lists the data keys stored in a cell.
func (c *Client) Keys(ctx context.Context, cellKey string) ([]string, error) {
	path := fmt.Sprintf("%s/%s/keys", cellsPath, url.PathEscape(cellKey))

	result, err := c.engine.Read(ctx, fasthttp.MethodGet, path, nil, &types.ReadOptions{UseCache: true})
	if err != nil {
		return nil, err
	}

	var list types.KeyList
	if err := utils.Unmarshal(result.Body, &list); err != nil {
		return nil, types.WrapError(err, "failed to parse key listing")
	}

	return list.Keys, nil
}

// Store writes a value under a key in a cell. While the service is
// unreachable with offline mode enabled, the write is queued and the
// returned result carries Queued=true with the operation id. In secure
// mode with a cell secret configured the value is sealed before it
// leaves the process.
func (c *Client) Store(ctx context.Context, cellKey, key, value string) (*types.Result, error) {
	cfg := c.config.GetConfig().Connection

	if cfg.SecureMode && cfg.CellSecret != "" {
		sealed, err := sealValue(value, cfg.CellSecret)
		if err != nil {
			return nil, err
		}
		value = sealed
	}

	path := fmt.Sprintf("%s/%s/data", cellsPath, url.PathEscape(cellKey))
	body := types.DataEntry{Key: key, Value: value}

	return c.engine.Write(ctx, fasthttp.MethodPost, path, body, nil)
}

// Fetch reads the value stored under a key. Recognized value envelopes
// are unsealed transparently when a cell secret is configured.
func (c *Client) Fetch(ctx context.Context, cellKey, key string) (string, error) {
	path := fmt.Sprintf("%s/%s/data/%s", cellsPath, url.PathEscape(cellKey), url.PathEscape(key))

	result, err := c.engine.Read(ctx, fasthttp.MethodGet, path, nil, &types.ReadOptions{UseCache: true})
	if err != nil {
		return "", err
	}

	var entry types.DataEntry
	if err := utils.Unmarshal(result.Body, &entry); err != nil {
		return "", types.WrapError(err, "failed to parse data entry")
	}

	if secret := c.config.GetConfig().Connection.CellSecret; secret != "" {
		return openEnvelope(entry.Value, secret)
	}

	return entry.Value, nil
}

// StoreJSON marshals a value and stores the JSON text under a key.
// Offline and secure-mode semantics match Store.
func (c *Client) StoreJSON(ctx context.Context, cellKey, key string, data interface{}) (*types.Result, error) {
	encoded, err := utils.MarshalString(data)
	if err != nil {
		return nil, types.WrapError(err, "failed to marshal value")
	}

	return c.Store(ctx, cellKey, key, encoded)
}

// FetchJSON reads the value stored under a key and unmarshals it into
// target.
func (c *Client) FetchJSON(ctx context.Context, cellKey, key string, target interface{}) error {
	value, err := c.Fetch(ctx, cellKey, key)
	if err != nil {
		return err
	}

	if err := utils.UnmarshalString(value, target); err != nil {
		return types.WrapError(err, "stored value is not valid JSON")
	}

	return nil
}

// Export reads every key in a cell and returns the values as a map.
// Keys that vanish between the listing and the read are skipped; any
// other failure aborts the export.
func (c *Client) Export(ctx context.Context, cellKey string) (map[string]string, error) {
	keys, err := c.Keys(ctx, cellKey)
	if err != nil {
		return nil, err
	}

	data := make(map[string]string, len(keys))
	for _, key := range keys {
		value, err := c.Fetch(ctx, cellKey, key)
		if err != nil {
			if types.IsError(err, types.ErrAPI) {
				continue
			}
			return nil, err
		}
		data[key] = value
	}

	return data, nil
}

// Import stores every entry of the map into a cell, keys in sorted
// order. A failed entry does not stop the rest; the error reports how
// many failed. Entries queued for later replay count as stored.
func (c *Client) Import(ctx context.Context, cellKey string, data map[string]string) error {
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var failed int
	for _, key := range keys {
		if _, err := c.Store(ctx, cellKey, key, data[key]); err != nil {
			failed++
			c.logger.Warn("Failed to import entry",
				zap.String("cell_key", cellKey),
				zap.String("key", key),
				zap.Error(err))
		}
	}

	if failed > 0 {
		return types.NewErrorf("import finished with %d of %d entries failed", failed, len(keys))
	}

	return nil
}

// Delete removes the value stored under a key. Offline semantics match
// Store.
func (c *Client) Delete(ctx context.Context, cellKey, key string) (*types.Result, error) {
	path := fmt.Sprintf("%s/%s/data/%s", cellsPath, url.PathEscape(cellKey), url.PathEscape(key))

	return c.engine.Write(ctx, fasthttp.MethodDelete, path, nil, nil)
}

// Query runs a filtered search inside a cell. Despite riding POST the
// call is a read; distinct query bodies cache independently.
func (c *Client) Query(ctx context.Context, cellKey string, query *types.QueryRequest) (*types.QueryResponse, error) {
	if query == nil {
		query = &types.QueryRequest{}
	}

	path := fmt.Sprintf("%s/%s/query", cellsPath, url.PathEscape(cellKey))

	result, err := c.engine.Read(ctx, fasthttp.MethodPost, path, query, &types.ReadOptions{UseCache: true})
	if err != nil {
		return nil, err
	}

	var response types.QueryResponse
	if err := utils.Unmarshal(result.Body, &response); err != nil {
		return nil, types.WrapError(err, "failed to parse query response")
	}

	return &response, nil
}

// AdminStats returns service-wide usage counters. Admin-only and never
// cached.
func (c *Client) AdminStats(ctx context.Context) (*types.AdminStats, error) {
	result, err := c.engine.Read(ctx, fasthttp.MethodGet, adminStatsPath, nil, &types.ReadOptions{})
	if err != nil {
		return nil, err
	}

	var stats types.AdminStats
	if err := utils.Unmarshal(result.Body, &stats); err != nil {
		return nil, types.WrapError(err, "failed to parse admin stats")
	}

	return &stats, nil
}

// Synchronize replays the offline queue against the service. See
// SyncEngine.Synchronize for ordering and failure semantics.
func (c *Client) Synchronize(ctx context.Context) ([]types.SyncResult, error) {
	return c.engine.Synchronize(ctx)
}

// Pending lists the queued operations awaiting replay, oldest first.
func (c *Client) Pending(ctx context.Context) ([]types.QueuedOperation, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.WrapError(err, "pending listing aborted")
	}

	return c.queue.ListInOrder()
}

// Discard drops a queued operation without replaying it.
func (c *Client) Discard(id string) error {
	if err := c.queue.Remove(id); err != nil {
		return err
	}

	c.logger.Info("Discarded queued operation", zap.String("id", id))
	return nil
}

// Identity returns the claims of the current session, when one is held.
func (c *Client) Identity() (*types.Identity, bool) {
	return c.session.Identity()
}

// Status reports a point-in-time snapshot of the client. Reachability
// reflects the probe's current verdict and may dial the service.
func (c *Client) Status() types.Status {
	status := types.Status{
		Running:      c.IsRunning(),
		Reachable:    c.probe.Reachable(c.ctx),
		SessionValid: c.session.IsValid(),
	}

	if pending, err := c.queue.Count(); err == nil {
		status.PendingOps = pending
	}

	if entries, err := c.cache.Size(); err == nil {
		status.CachedEntries = entries
	}

	return status
}
