package feelfit

import (
	"context"
	"fmt"
	"strings"
)

// deriveAccountName picks the first non-empty display name candidate:
// nickname, name, username, the local part of the email, then the
// positional placeholder.
func deriveAccountName(p Profile, placeholder string) string {
	for _, key := range []string{"nickname", "name", "username"} {
		if v := coerceString(p[key]); v != "" {
			return v
		}
	}
	if email := coerceString(p["email"]); email != "" {
		if local := strings.SplitN(email, "@", 2)[0]; local != "" {
			return local
		}
	}
	return placeholder
}

func normalizeProfile(raw map[string]any, primary bool, placeholder string) Profile {
	p := Profile(raw)
	p["is_primary"] = primary
	if coerceString(p["account_name"]) == "" {
		p["account_name"] = deriveAccountName(p, placeholder)
	}
	return p
}

// ListAllProfiles returns the account's profile directory: the primary
// user first, then any sub-users, each annotated with is_primary and a
// non-empty account_name. Either source failing is non-fatal; the
// directory degrades to whatever could be fetched.
func (c *Client) ListAllProfiles(ctx context.Context) ([]Profile, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}

	var profiles []Profile

	primaryData, err := c.getObject(ctx, pathPrimaryUser, nil)
	if err != nil {
		c.logger.Errorw("failed to fetch primary user", "error", err)
	} else if raw := asObject(primaryData["user_info"]); len(raw) > 0 {
		p := normalizeProfile(raw, true, "Profilo Primario")
		c.logger.Debugw("primary profile", "user_id", p.UserID(), "account_name", p.AccountName())
		profiles = append(profiles, p)
	}

	subUsers, err := c.listSubUsers(ctx)
	if err != nil {
		// single-profile accounts may not have the endpoint at all
		c.logger.Warnw("failed to fetch sub users", "error", err)
	}
	for idx, raw := range subUsers {
		p := normalizeProfile(raw, false, fmt.Sprintf("Profilo %d", idx+2))
		c.logger.Debugw("sub profile", "user_id", p.UserID(), "account_name", p.AccountName())
		profiles = append(profiles, p)
	}

	c.logger.Infow("profile directory fetched", "count", len(profiles))
	return profiles, nil
}

// listSubUsers normalizes the polymorphic sub-user response: the
// payload is either a bare array or an object holding the array under
// one of several known keys.
func (c *Client) listSubUsers(ctx context.Context) ([]map[string]any, error) {
	v, err := c.get(ctx, pathListSubUsers, nil)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case []any:
		return asObjectList(t), nil
	case map[string]any:
		for _, key := range []string{"sub_users", "data", "users"} {
			if list, ok := t[key].([]any); ok {
				return asObjectList(list), nil
			}
		}
	}
	return nil, nil
}
