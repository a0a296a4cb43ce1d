package client

import (
	"context"
	"net/url"
)

// TargetRoot names a URI prefix (e.g. an s3:// bucket path) outputs under
// that name resolve against, scoped to one environment.
type TargetRoot struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// ListTargetRoots fetches every target root configured for
// (workspaceID, environmentID), used by `stardag config target-roots
// sync` to refresh the local cache.
func ListTargetRoots(ctx context.Context, c *Client, workspaceID, environmentID string) ([]TargetRoot, error) {
	var roots []TargetRoot
	path := "/api/v1/ui/workspaces/" + url.PathEscape(workspaceID) + "/environments/" + url.PathEscape(environmentID) + "/target-roots"
	err := c.get(ctx, path, &roots)
	return roots, err
}
