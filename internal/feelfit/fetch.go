package feelfit

import (
	"context"
	"sync"
)

// FetchAll runs one full fetch-and-merge cycle: it resolves the target
// profiles (all of them when selected is empty), fetches settings,
// goals and measurements per profile with cursor-based resumption,
// then fetches the account-wide device bindings and joins them to
// device models. Sub-request failures degrade to empty results; only a
// missing token aborts the cycle.
//
// Profiles are processed one at a time in target order, with the three
// sub-requests of each profile issued concurrently. The output profile
// order matches the target iteration order.
func (c *Client) FetchAll(ctx context.Context, selected []string) (*AggregatePayload, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}

	var allProfiles []Profile
	primaryData := map[string]any{}

	profiles, err := c.ListAllProfiles(ctx)
	if err != nil {
		c.logger.Debugw("could not fetch profile directory", "error", err)
	} else {
		allProfiles = profiles
	}
	if data, err := c.GetPrimaryUser(ctx); err != nil {
		c.logger.Debugw("could not fetch primary user", "error", err)
	} else {
		primaryData = data
		if info := asObject(data["user_info"]); len(info) > 0 {
			// concurrent cycles share the client; the refresh of the
			// cached primary user info goes through the same lock as
			// the cursor map
			c.mu.Lock()
			c.UserInfo = info
			c.mu.Unlock()
		}
	}

	targets := allProfiles
	if len(selected) > 0 {
		wanted := make(map[string]bool, len(selected))
		for _, id := range selected {
			wanted[id] = true
		}
		filtered := make([]Profile, 0, len(allProfiles))
		for _, p := range allProfiles {
			if wanted[p.UserID()] {
				filtered = append(filtered, p)
			}
		}
		targets = filtered
		c.logger.Debugw("fetching selected profiles", "selected", len(targets), "total", len(allProfiles))
	} else {
		c.logger.Debugw("fetching all profiles", "total", len(targets))
	}

	profileData := make([]ProfileData, 0, len(targets))
	for _, profile := range targets {
		profileData = append(profileData, c.fetchProfile(ctx, profile))
	}

	binds := DeviceBindsPayload{}
	if data, err := c.ListDeviceBinds(ctx); err != nil {
		c.logger.Errorw("error fetching device binds", "error", err)
	} else {
		models := toDeviceModels(asObjectList(data["device_models"]))
		binds = DeviceBindsPayload{
			DeviceBinds:  enrichDeviceBinds(toDeviceBinds(asObjectList(data["device_binds"])), models),
			DeviceModels: models,
		}
	}

	return &AggregatePayload{
		Profiles:    profileData,
		AllProfiles: allProfiles,
		DeviceBinds: binds,
		PrimaryUser: primaryData,
	}, nil
}

// fetchProfile runs the incremental fetch for one profile: cursor
// resolution, the three-way concurrent fan-out, the empty-result
// fallback and the cursor update. Every failure inside degrades to an
// empty section.
func (c *Client) fetchProfile(ctx context.Context, profile Profile) ProfileData {
	userID := profile.UserID()
	name := profile.AccountName()

	stored := c.cursorFor(userID)
	primaryTS := profile.Timestamp()

	requestUpdatedAt := int64(0)
	switch {
	case stored.LastUpdatedAt > 0:
		requestUpdatedAt = stored.LastUpdatedAt
	case primaryTS > 0:
		requestUpdatedAt = primaryTS
	}

	c.logger.Debugw("profile measurements fetch",
		"profile", name,
		"last_known", stored.LastUpdatedAt,
		"primary_ts", primaryTS,
		"request", requestUpdatedAt,
		"measurement_id", stored.LastMeasurementID,
	)

	var (
		settings     map[string]any
		goals        map[string]any
		measurements map[string]any
	)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		v, err := c.GetUserSettings(ctx)
		if err != nil {
			c.logger.Errorw("error fetching user settings", "profile", name, "error", err)
			return
		}
		settings = v
	}()
	go func() {
		defer wg.Done()
		v, err := c.ListGoals(ctx, userID)
		if err != nil {
			c.logger.Errorw("error fetching goals", "profile", name, "error", err)
			return
		}
		goals = v
	}()
	go func() {
		defer wg.Done()
		v, err := c.ListMeasurements(ctx, userID, requestUpdatedAt, stored.LastMeasurementID)
		if err != nil {
			c.logger.Errorw("error fetching measurements", "profile", name, "error", err)
			return
		}
		measurements = v
	}()
	wg.Wait()

	if settings == nil {
		settings = map[string]any{}
	}
	if goals == nil {
		goals = map[string]any{}
	}
	if measurements == nil {
		measurements = map[string]any{}
	}

	list := asObjectList(measurements["measurements"])
	// an empty incremental result with a known profile timestamp that
	// disagrees with the stored cursor means the cursor may be stale;
	// retry once from the beginning
	if len(list) == 0 && primaryTS != 0 && primaryTS != stored.LastUpdatedAt {
		c.logger.Debugw("measurements empty, retrying from zero cursor", "profile", name)
		fallback, err := c.ListMeasurements(ctx, userID, 0, 0)
		if err != nil {
			c.logger.Debugw("fallback measurements fetch failed", "profile", name, "error", err)
		} else {
			measurements = fallback
			list = asObjectList(measurements["measurements"])
		}
	}

	c.advanceCursor(userID,
		coerceInt64(measurements["last_updated_at"]),
		coerceInt64(measurements["last_measurement_id"]),
	)

	// server order is newest first; the head is the latest measurement
	var last map[string]any
	if len(list) > 0 {
		last = list[0]
	}

	return ProfileData{
		UserInfo:     profile,
		UserSettings: settings,
		Goals:        goals,
		Measurements: MeasurementBlock{
			LastMeasurement: last,
			Measurements:    list,
			LastUpdatedAt:   coerceInt64(measurements["last_updated_at"]),
		},
	}
}

type modelKey struct {
	scale    string
	internal string
}

// enrichDeviceBinds joins device bindings to device models: composite
// key (scale_name, internal_model) first, scale_name alone as
// fallback, first occurrence winning on duplicate keys. Each binding
// is copied before enrichment; inputs are never mutated.
func enrichDeviceBinds(binds []DeviceBind, models []DeviceModel) []DeviceBind {
	byComposite := make(map[modelKey]DeviceModel, len(models))
	byScale := make(map[string]DeviceModel, len(models))
	for _, m := range models {
		key := modelKey{
			scale:    coerceString(m["scale_name"]),
			internal: coerceString(m["internal_model"]),
		}
		if _, seen := byComposite[key]; !seen {
			byComposite[key] = m
		}
		if key.scale != "" {
			if _, seen := byScale[key.scale]; !seen {
				byScale[key.scale] = m
			}
		}
	}

	enriched := make([]DeviceBind, 0, len(binds))
	for _, d := range binds {
		match, ok := byComposite[modelKey{
			scale:    coerceString(d["scale_name"]),
			internal: coerceString(d["internal_model"]),
		}]
		if !ok {
			match, ok = byScale[coerceString(d["scale_name"])]
		}

		merged := make(DeviceBind, len(d)+2)
		for k, v := range d {
			merged[k] = v
		}
		if ok {
			merged["model_info"] = map[string]any(match)
			if brand := coerceString(asObject(match["brand_info"])["brand_name"]); brand != "" {
				merged["brand_name"] = brand
			}
		}
		enriched = append(enriched, merged)
	}
	return enriched
}

func toDeviceBinds(raw []map[string]any) []DeviceBind {
	out := make([]DeviceBind, 0, len(raw))
	for _, m := range raw {
		out = append(out, DeviceBind(m))
	}
	return out
}

func toDeviceModels(raw []map[string]any) []DeviceModel {
	out := make([]DeviceModel, 0, len(raw))
	for _, m := range raw {
		out = append(out, DeviceModel(m))
	}
	return out
}
