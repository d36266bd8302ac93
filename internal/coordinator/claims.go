package coordinator

import "github.com/coordhub/coordhub/internal/apierr"

// Claim attempts to claim `what` for `by`. Fails with contention if a
// non-stale claim by a different agent exists; a stale claim may be
// overwritten by anyone.
func (c *Coordinator) Claim(what, by, description string) (*Claim, error) {
	if what == "" || by == "" {
		return nil, apierr.Validationf("what and by are required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, err := c.store.getClaim(what)
	if err != nil {
		return nil, apierr.Storagef(err, "load claim")
	}
	now := clock()
	if existing != nil && existing.By != by && now.Sub(existing.Since) <= ClaimStaleAfter {
		return nil, apierr.Contentionf("%s is claimed by %s", what, existing.By).
			WithDetails(map[string]interface{}{"by": existing.By, "since": existing.Since})
	}
	claim := &Claim{What: what, By: by, Description: description, Since: now}
	if err := c.store.upsertClaim(claim); err != nil {
		return nil, apierr.Storagef(err, "save claim")
	}
	c.hub.broadcastJSON(WSTaskUpdate, map[string]interface{}{"action": "claimed", "claim": claim})
	return claim, nil
}

// ReleaseClaim deletes the claim only when by matches the stored owner.
func (c *Coordinator) ReleaseClaim(what, by string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ok, err := c.store.deleteClaim(what, by)
	if err != nil {
		return apierr.Storagef(err, "release claim")
	}
	if !ok {
		return apierr.Ownershipf("%s is not claimed by %s", what, by)
	}
	c.hub.broadcastJSON(WSTaskUpdate, map[string]interface{}{"action": "claim-released", "what": what})
	return nil
}

// ListClaims returns claims, computing the derived `stale` flag, hiding
// stale claims unless includeStale is set.
func (c *Coordinator) ListClaims(includeStale bool) ([]*Claim, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	claims, err := c.store.listClaims()
	if err != nil {
		return nil, apierr.Storagef(err, "list claims")
	}
	now := clock()
	var out []*Claim
	for _, cl := range claims {
		cl.Stale = now.Sub(cl.Since) > ClaimStaleAfter
		if cl.Stale && !includeStale {
			continue
		}
		out = append(out, cl)
	}
	return out, nil
}

// ClaimsByAgent is a SPEC_FULL.md query helper (§5) that finds an agent's
// active claims.
func (c *Coordinator) ClaimsByAgent(agentID string) ([]*Claim, error) {
	claims, err := c.ListClaims(false)
	if err != nil {
		return nil, err
	}
	var out []*Claim
	for _, cl := range claims {
		if cl.By == agentID {
			out = append(out, cl)
		}
	}
	return out, nil
}
