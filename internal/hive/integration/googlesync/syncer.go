package googlesync

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/datasektionen/hive-sub000/internal/hive/integration"
	"github.com/datasektionen/hive-sub000/internal/hive/membership"
	"github.com/datasektionen/hive-sub000/internal/hive/store"
)

// Mode selects how aggressively a sync run acts on the computed diff (§4.6).
type Mode string

const (
	// ModeDryRun enumerates intended changes via info log entries only.
	ModeDryRun Mode = "dry-run"
	// ModeNoDeletion performs inserts and updates but suppresses deletions.
	ModeNoDeletion Mode = "no-deletion"
	// ModeFull performs every reconciliation, including deletions.
	ModeFull Mode = "full"
)

const (
	tagSync          = "sync"
	tagExtraMember   = "extra-member"
	tagEmbedMembers  = "embed-members"
	tagExtraSubgroup = "extra-subgroup"
	tagAllowExternal = "allow-external"
	tagPersonalEmail = "personal-email"
)

// Config carries the settings loaded per run (§4.6 step 2): service account
// credentials, the directory's primary domain for email synthesis, and the
// reconciliation mode.
type Config struct {
	ServiceAccountEmail string
	PrivateKeyPEM       string
	ImpersonateUser     string
	PrimaryDomain       string
	Mode                Mode
}

func loadConfig(settings integration.Settings) (Config, error) {
	get := func(key string) (string, error) {
		v, ok := settings[key]
		if !ok {
			return "", fmt.Errorf("googlesync: missing setting %q", key)
		}
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("googlesync: setting %q is not a string", key)
		}
		return s, nil
	}
	svcEmail, err := get("service_account_email")
	if err != nil {
		return Config{}, err
	}
	key, err := get("private_key")
	if err != nil {
		return Config{}, err
	}
	impersonate, err := get("impersonate_user")
	if err != nil {
		return Config{}, err
	}
	domain, err := get("primary_domain")
	if err != nil {
		return Config{}, err
	}
	mode, err := get("mode")
	if err != nil {
		mode = string(ModeDryRun)
	}
	return Config{
		ServiceAccountEmail: svcEmail,
		PrivateKeyPEM:       key,
		ImpersonateUser:     impersonate,
		PrimaryDomain:       domain,
		Mode:                Mode(mode),
	}, nil
}

// Task builds the §4.6 cron Task for this integration, to be registered
// with the integration scheduler under a manifest ID of "gworkspace".
func Task(cronExpr string) integration.Task {
	return integration.Task{
		ID:             "sync",
		CronExpression: cronExpr,
		Fn:             run,
	}
}

// ManifestID is the system id this integration bootstraps and logs runs
// under (§4.6 step 1).
const ManifestID = "gworkspace"

// Manifest declares the gworkspace integration for registration with a
// scheduler: one "sync" task on cronExpr. The tags it reads (sync,
// extra-member, embed-members, extra-subgroup, allow-external,
// personal-email) live on the hive system itself and are bootstrapped
// there, not by this integration.
func Manifest(cronExpr string) integration.Manifest {
	return integration.Manifest{
		ID:          ManifestID,
		Description: "Google Workspace directory sync",
		Settings:    []string{"service_account_email", "private_key", "impersonate_user", "primary_domain", "mode"},
		Tasks:       []integration.Task{Task(cronExpr)},
	}
}

func run(ctx context.Context, mon *integration.Monitor, settings integration.Settings, st *store.Store) error {
	cfg, err := loadConfig(settings)
	if err != nil {
		mon.Error("%v", err)
		return err
	}

	client, err := NewClient(ctx, cfg.ServiceAccountEmail, cfg.PrivateKeyPEM, cfg.ImpersonateUser)
	if err != nil {
		mon.Error("failed to build directory client: %v", err)
		return err
	}

	desired, err := computeDesired(ctx, st, client, cfg, mon)
	if err != nil {
		mon.Error("failed to compute desired state: %v", err)
		return err
	}

	remote, err := client.ListGroups(ctx)
	if err != nil {
		mon.Error("failed to list remote groups: %v", err)
		return err
	}
	// Local groups and remote groups are both sorted in byte order before
	// diffing, matching the original's "re-sort in byte order (not DB
	// collation) before binary search" note.
	sort.Slice(remote, func(i, j int) bool { return remote[i].Email < remote[j].Email })
	localEmails := make([]string, 0, len(desired))
	for email := range desired {
		localEmails = append(localEmails, email)
	}
	sort.Strings(localEmails)

	remoteSet := make(map[string]SimpleGroup, len(remote))
	for _, g := range remote {
		remoteSet[g.Email] = g
	}

	for _, email := range localEmails {
		group := desired[email]
		if _, ok := remoteSet[email]; !ok {
			if err := reconcileCreate(ctx, client, cfg.Mode, mon, email, group); err != nil {
				mon.Error("failed to create group %s: %v", email, err)
			}
			continue
		}
		if err := reconcileUpdate(ctx, client, cfg.Mode, mon, email, group); err != nil {
			mon.Error("failed to update group %s: %v", email, err)
		}
		if err := reconcileMembers(ctx, client, cfg.Mode, mon, email, group); err != nil {
			mon.Error("failed to reconcile members of %s: %v", email, err)
		}
	}

	if cfg.Mode == ModeFull {
		for _, g := range remote {
			if _, ok := desired[g.Email]; !ok {
				mon.Info("would delete remote group %s (no longer carries tag %q) — deletion of whole groups is not automated; flagging only", g.Email, tagSync)
			}
		}
	}

	return nil
}

// desiredGroup is the computed local state for one synced remote group.
type desiredGroup struct {
	nameSV, nameEN               string
	descriptionSV, descriptionEN string
	members                      map[string]MemberRole // email -> role
	allowExternal                bool
}

// computeDesired implements §4.6's membership formula: owned direct members
// plus `extra-member`, plus embedded groups via `embed-members`, plus
// external subgroup emails via `extra-subgroup`.
func computeDesired(ctx context.Context, st *store.Store, client *Client, cfg Config, mon *integration.Monitor) (map[string]desiredGroup, error) {
	now := time.Now().UTC()
	groups, err := st.GroupsWithTag(ctx, st, "hive", tagSync)
	if err != nil {
		return nil, err
	}

	out := make(map[string]desiredGroup, len(groups))
	for _, tg := range groups {
		key := membership.GroupKey{ID: tg.GroupID, Domain: tg.GroupDomain}
		var email string
		if tg.Content != nil && *tg.Content != "" {
			email = *tg.Content
		} else {
			email = tg.GroupID + "@" + cfg.PrimaryDomain
		}

		allowExternal, err := st.GroupHasTag(ctx, st, "hive", tagAllowExternal, nil, key)
		if err != nil {
			return nil, err
		}

		members := make(map[string]MemberRole)

		// Owned direct members (§4.6: "owned direct members").
		owned, err := usernamesOf(ctx, st, key, now)
		if err != nil {
			return nil, err
		}
		for _, username := range owned {
			if email, ok, err := resolveMemberEmail(ctx, st, client, username, cfg.PrimaryDomain, allowExternal, mon); err == nil && ok {
				members[email] = RoleMember
			} else if err != nil {
				return nil, err
			}
		}

		// Embedded groups: every member of a group named by an
		// `embed-members` tag assignment on this group is folded in too.
		embedded, err := st.GroupsWithTag(ctx, st, "hive", tagEmbedMembers)
		if err == nil {
			for _, tg2 := range embedded {
				if tg2.GroupID != key.ID || tg2.GroupDomain != key.Domain {
					continue
				}
				if tg2.Content == nil {
					continue
				}
				embeddedKey := membership.GroupKey{ID: *tg2.Content, Domain: key.Domain}
				usernames, err := usernamesOf(ctx, st, embeddedKey, now)
				if err != nil {
					return nil, err
				}
				for _, username := range usernames {
					if email, ok, err := resolveMemberEmail(ctx, st, client, username, cfg.PrimaryDomain, allowExternal, mon); err == nil && ok {
						members[email] = RoleMember
					} else if err != nil {
						return nil, err
					}
				}
			}
		}

		// extra-member and extra-subgroup tags name additional raw emails
		// (of a user or of an external mailing address) to always include.
		extraMembers, err := st.UsersWithTag(ctx, st, "hive", tagExtraMember)
		if err == nil {
			for _, tu := range extraMembers {
				if tu.Content != nil {
					members[*tu.Content] = RoleMember
				}
			}
		}
		extraSubgroups, err := st.GroupsWithTag(ctx, st, "hive", tagExtraSubgroup)
		if err == nil {
			for _, tg2 := range extraSubgroups {
				if tg2.GroupID == key.ID && tg2.GroupDomain == key.Domain && tg2.Content != nil {
					members[*tg2.Content] = RoleMember
				}
			}
		}

		out[email] = desiredGroup{
			nameSV:        tg.NameSV,
			nameEN:        tg.NameEN,
			descriptionSV: tg.DescriptionSV,
			descriptionEN: tg.DescriptionEN,
			members:       members,
			allowExternal: allowExternal,
		}
	}
	return out, nil
}

func usernamesOf(ctx context.Context, st *store.Store, g membership.GroupKey, d time.Time) ([]string, error) {
	rows, err := st.Query(ctx, `SELECT username FROM direct_memberships
		WHERE group_id = $1 AND group_domain = $2 AND from_date <= $3 AND until_date >= $3`, g.ID, g.Domain, d)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// resolveMemberEmail implements the §4.6 email-resolution rule: prefer
// `{username}@{primaryDomain}` if that account exists in the directory;
// else, if the group allows external members, fall back to the user's
// `personal-email` tag content; else skip with a warning.
func resolveMemberEmail(ctx context.Context, st *store.Store, client *Client, username, primaryDomain string, allowExternal bool, mon *integration.Monitor) (string, bool, error) {
	candidate := username + "@" + primaryDomain
	if _, ok, err := client.GetUser(ctx, candidate); err != nil {
		return "", false, err
	} else if ok {
		return candidate, true, nil
	}

	if !allowExternal {
		mon.Warning("skipping member %s: no directory account and group does not allow external members", username)
		return "", false, nil
	}

	var content *string
	err := st.QueryRow(ctx, `SELECT content FROM tag_assignments
		WHERE system_id = 'hive' AND tag_id = $1 AND username = $2`, tagPersonalEmail, username).Scan(&content)
	if err == nil && content != nil && *content != "" {
		return *content, true, nil
	}
	mon.Warning("skipping member %s: no directory account and no personal-email tag", username)
	return "", false, nil
}

// googleDescriptionLimit is the maximum description length Google Groups
// accepts; longer values are truncated before being sent.
const googleDescriptionLimit = 4096

func truncateDescription(s string) string {
	if len(s) <= googleDescriptionLimit {
		return s
	}
	return s[:googleDescriptionLimit]
}

func reconcileCreate(ctx context.Context, client *Client, mode Mode, mon *integration.Monitor, email string, g desiredGroup) error {
	if mode == ModeDryRun {
		mon.Info("would create remote group %s (%s)", email, g.nameSV)
		return nil
	}
	payload := NewGroup{Email: email, Name: g.nameSV, Description: truncateDescription(g.descriptionSV)}
	if _, err := client.CreateGroup(ctx, payload); err != nil {
		return err
	}
	mon.Info("created remote group %s", email)
	return addAllMembers(ctx, client, mode, mon, email, g)
}

// computePatch computes the name and description patches reconcileUpdate
// sends for a remote group, as two independent signals: name_patch fires only when the
// remote name matches neither name_sv nor name_en, and desc_patch fires when
// the remote description differs from a 4096-char-truncated description_sv,
// ANDed with `current.Name != g.descriptionEN`. That second condition reads
// like a name/description mixup in the field it compares against, but it's
// the comparison the directory sync has always run, so it's kept rather than
// "corrected".
func computePatch(current Group, g desiredGroup) (namePatch, descPatch *string) {
	if current.Name != g.nameSV && current.Name != g.nameEN {
		name := g.nameSV
		namePatch = &name
	}

	truncated := truncateDescription(g.descriptionSV)
	if current.Description != truncated && current.Name != g.descriptionEN {
		descPatch = &truncated
	}
	return namePatch, descPatch
}

func reconcileUpdate(ctx context.Context, client *Client, mode Mode, mon *integration.Monitor, email string, g desiredGroup) error {
	current, ok, err := client.GetGroup(ctx, email)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	namePatch, descPatch := computePatch(current, g)
	if namePatch == nil && descPatch == nil {
		return nil
	}
	if mode == ModeDryRun {
		mon.Info("would patch remote group %s (name/description)", email)
		return nil
	}
	if _, _, err := client.PatchGroup(ctx, email, GroupPatch{Name: namePatch, Description: descPatch}); err != nil {
		return err
	}
	mon.Info("patched remote group %s", email)
	return nil
}

func addAllMembers(ctx context.Context, client *Client, mode Mode, mon *integration.Monitor, email string, g desiredGroup) error {
	for memberEmail, role := range g.members {
		if mode == ModeDryRun {
			mon.Info("would add %s to %s as %s", memberEmail, email, role)
			continue
		}
		if err := client.AddGroupMember(ctx, email, GroupMember{Email: memberEmail, Role: role, Type: TypeUser}); err != nil {
			mon.Warning("failed to add %s to %s: %v", memberEmail, email, err)
		}
	}
	return nil
}

func reconcileMembers(ctx context.Context, client *Client, mode Mode, mon *integration.Monitor, email string, g desiredGroup) error {
	remoteMembers, err := client.ListGroupMembers(ctx, email)
	if err != nil {
		return err
	}
	remoteSet := make(map[string]GroupMember, len(remoteMembers))
	for _, m := range remoteMembers {
		remoteSet[m.Email] = m
	}

	for memberEmail, role := range g.members {
		existing, ok := remoteSet[memberEmail]
		switch {
		case !ok:
			if mode == ModeDryRun {
				mon.Info("would add %s to %s as %s", memberEmail, email, role)
				continue
			}
			if err := client.AddGroupMember(ctx, email, GroupMember{Email: memberEmail, Role: role, Type: TypeUser}); err != nil {
				mon.Warning("failed to add %s to %s: %v", memberEmail, email, err)
			}
		case existing.Role != role:
			if mode == ModeDryRun {
				mon.Info("would change role of %s in %s to %s", memberEmail, email, role)
				continue
			}
			if err := client.PatchGroupMember(ctx, email, memberEmail, role); err != nil {
				mon.Warning("failed to patch role of %s in %s: %v", memberEmail, email, err)
			}
		}
	}

	if mode == ModeDryRun || mode == ModeNoDeletion {
		for remoteEmail := range remoteSet {
			if _, ok := g.members[remoteEmail]; !ok && mode == ModeDryRun {
				mon.Info("would remove %s from %s", remoteEmail, email)
			}
		}
		return nil
	}

	for remoteEmail := range remoteSet {
		if _, ok := g.members[remoteEmail]; ok {
			continue
		}
		if err := client.RemoveGroupMember(ctx, email, remoteEmail); err != nil {
			mon.Warning("failed to remove %s from %s: %v", remoteEmail, email, err)
		}
	}
	return nil
}
