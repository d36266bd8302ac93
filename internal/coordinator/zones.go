package coordinator

import (
	"strings"

	"github.com/coordhub/coordhub/internal/apierr"
)

// ClaimZone records (or re-records) a zone. The system does not reject
// overlapping paths (Open Question (a) in §9) — clients are expected to
// check via QueryZonePath first.
func (c *Coordinator) ClaimZone(zoneID, path, owner, description string) (*Zone, error) {
	if zoneID == "" || path == "" || owner == "" {
		return nil, apierr.Validationf("zoneId, path, and owner are required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	z := &Zone{ZoneID: zoneID, Path: path, Owner: owner, Description: description, ClaimedAt: clock()}
	if err := c.store.upsertZone(z); err != nil {
		return nil, apierr.Storagef(err, "claim zone")
	}
	c.hub.broadcastJSON(WSTaskUpdate, map[string]interface{}{"action": "zone-claimed", "zone": z})
	return z, nil
}

// ReleaseZone deletes zoneID only when owner matches the stored owner.
func (c *Coordinator) ReleaseZone(zoneID, owner string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ok, err := c.store.deleteZone(zoneID, owner)
	if err != nil {
		return apierr.Storagef(err, "release zone")
	}
	if !ok {
		return apierr.Ownershipf("zone %s is not owned by %s", zoneID, owner)
	}
	c.hub.broadcastJSON(WSTaskUpdate, map[string]interface{}{"action": "zone-released", "zoneId": zoneID})
	return nil
}

// ListZones returns every zone.
func (c *Coordinator) ListZones() ([]*Zone, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	zones, err := c.store.listZones()
	if err != nil {
		return nil, apierr.Storagef(err, "list zones")
	}
	return zones, nil
}

// QueryZonePath returns the zone whose path is the longest prefix match of
// the given request path (Z1: path containment), or nil if none covers it.
func (c *Coordinator) QueryZonePath(path string) (*Zone, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	zones, err := c.store.listZones()
	if err != nil {
		return nil, apierr.Storagef(err, "query zone")
	}
	return longestPrefixZone(zones, path)
}

func longestPrefixZone(zones []*Zone, path string) (*Zone, error) {
	var best *Zone
	for _, z := range zones {
		if z.Path == path || strings.HasPrefix(path, z.Path) {
			if best == nil || len(z.Path) > len(best.Path) {
				best = z
			}
		}
	}
	return best, nil
}
