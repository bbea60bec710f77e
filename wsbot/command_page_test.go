package wsbot

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testModRole = "role_mod"

func newTestResolver(t testing.TB) (*pageResolver, *PageCache) {
	t.Helper()
	cache := NewPageCache(nil, testCacheConfig(), nil)
	_ = cache.Put(context.Background(), "orig", testCachedPage())
	return newPageResolver(cache, newRoleAuthorizer([]string{testModRole}, 0), nil), cache
}

func member(id string, roles ...string) *discordgo.Member {
	return &discordgo.Member{User: &discordgo.User{ID: id}, Roles: roles}
}

func TestPageResolver_ChangesPage(t *testing.T) {
	t.Parallel()
	resolver, _ := newTestResolver(t)
	handler := newStubInteractionHandler(
		t,
		newPageInteraction(t, member("U1"), "orig", encodePageCustomID(2)),
	)

	require.True(t, resolver.Resolve(context.Background(), handler))

	resp := receive(t, handler.callRespond)
	assert.Equal(t, discordgo.InteractionResponseDeferredMessageUpdate, resp.Type)

	edit := receive(t, handler.callEdit)
	assert.Nil(t, edit.Content, "summary text should be left as-is")
	require.NotNil(t, edit.Embeds)
	embed := (*edit.Embeds)[0]
	assert.Equal(t, "two", embed.Description)
	assert.Equal(t, "Sura 2, The Heifer", embed.Title)
	assert.Equal(t, "Quran: The Final Testament • Page 2/3", embed.Footer.Text)
	assert.Equal(
		t,
		[]string{encodePageCustomID(1), encodePageCustomID(3)},
		buttonIDs(t, *edit.Components),
	)
	assertNoCall(t, handler.callFollowUp)
}

func TestPageResolver_LastPage(t *testing.T) {
	t.Parallel()
	resolver, _ := newTestResolver(t)
	handler := newStubInteractionHandler(
		t,
		newPageInteraction(t, member("U1"), "orig", encodePageCustomID(3)),
	)

	require.True(t, resolver.Resolve(context.Background(), handler))
	_ = receive(t, handler.callRespond)
	edit := receive(t, handler.callEdit)
	assert.Equal(t, "three", (*edit.Embeds)[0].Description)
	assert.Equal(t, []string{encodePageCustomID(2)}, buttonIDs(t, *edit.Components))
}

func TestPageResolver_Rejections(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		member   *discordgo.Member
		original string
		customID string
		expected string
	}{
		{
			name:     "expired",
			member:   member("U1"),
			original: "unknown",
			customID: encodePageCustomID(2),
			expected: ErrRequestExpired.Message,
		},
		{
			name:     "not the requester",
			member:   member("U2"),
			original: "orig",
			customID: encodePageCustomID(2),
			expected: ErrNotRequester.Message,
		},
		{
			name:     "past the last page",
			member:   member("U1"),
			original: "orig",
			customID: encodePageCustomID(4),
			expected: ErrPageOutOfRangeHigh.Message,
		},
		{
			name:     "before the first page",
			member:   member("U1"),
			original: "orig",
			customID: encodePageCustomID(0),
			expected: ErrPageOutOfRangeLow.Message,
		},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				resolver, _ := newTestResolver(t)
				handler := newStubInteractionHandler(
					t,
					newPageInteraction(t, tc.member, tc.original, tc.customID),
				)

				require.True(t, resolver.Resolve(context.Background(), handler))
				resp := receive(t, handler.callRespond)
				assert.Equal(t, discordgo.InteractionResponseChannelMessageWithSource, resp.Type)
				require.NotNil(t, resp.Data)
				assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
				assert.Equal(t, "`"+tc.expected+"`", resp.Data.Content)
				assertNoCall(t, handler.callEdit)
			},
		)
	}
}

func TestPageResolver_ElevatedMember(t *testing.T) {
	t.Parallel()
	resolver, _ := newTestResolver(t)
	handler := newStubInteractionHandler(
		t,
		newPageInteraction(t, member("U2", "role_other", testModRole), "orig", encodePageCustomID(2)),
	)

	require.True(t, resolver.Resolve(context.Background(), handler))
	resp := receive(t, handler.callRespond)
	assert.Equal(t, discordgo.InteractionResponseDeferredMessageUpdate, resp.Type)
	edit := receive(t, handler.callEdit)
	assert.Equal(t, "two", (*edit.Embeds)[0].Description)
}

func TestPageResolver_EditFailure(t *testing.T) {
	t.Parallel()
	resolver, _ := newTestResolver(t)
	handler := newStubInteractionHandler(
		t,
		newPageInteraction(t, member("U1"), "orig", encodePageCustomID(2)),
	)
	handler.editErr = errStubEdit

	require.True(t, resolver.Resolve(context.Background(), handler))
	_ = receive(t, handler.callRespond)
	_ = receive(t, handler.callEdit)
	failureEdit := receive(t, handler.callEdit)
	require.NotNil(t, failureEdit.Content)
	assert.Equal(t, "`"+errStubEdit.Error()+"`", *failureEdit.Content)

	followUp := receive(t, handler.callFollowUp)
	assert.Equal(t, "`"+errStubEdit.Error()+"`", followUp.Content)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, followUp.Flags)
}

func TestPageResolver_Ignored(t *testing.T) {
	t.Parallel()

	notReply := newPageInteraction(t, member("U1"), "orig", encodePageCustomID(2))
	notReply.Message.Interaction = nil

	testCases := []struct {
		name        string
		interaction *discordgo.InteractionCreate
	}{
		{
			name:        "malformed custom ID",
			interaction: newPageInteraction(t, member("U1"), "orig", "page_x"),
		},
		{
			name:        "other button",
			interaction: newPageInteraction(t, member("U1"), "orig", "subscribe"),
		},
		{
			name:        "not a command reply",
			interaction: notReply,
		},
		{
			name:        "application command",
			interaction: newCommandInteraction(t, newDiscordUser(t), commandQuran),
		},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				resolver, _ := newTestResolver(t)
				handler := newStubInteractionHandler(t, tc.interaction)
				assert.False(t, resolver.Resolve(context.Background(), handler))
				assertNoCall(t, handler.callRespond)
			},
		)
	}
}

func TestRoleAuthorizer(t *testing.T) {
	t.Parallel()
	auth := newRoleAuthorizer([]string{"r1", ""}, discordgo.PermissionManageMessages)

	assert.False(t, auth.Authorized(nil))
	assert.False(t, auth.Authorized(member("U1")))
	assert.False(t, auth.Authorized(member("U1", "")))
	assert.True(t, auth.Authorized(member("U1", "r2", "r1")))

	m := member("U1")
	m.Permissions = discordgo.PermissionManageMessages | discordgo.PermissionSendMessages
	assert.True(t, auth.Authorized(m))

	m.Permissions = discordgo.PermissionSendMessages
	assert.False(t, auth.Authorized(m))

	noPerms := newRoleAuthorizer(nil, 0)
	m.Permissions = discordgo.PermissionAdministrator
	assert.False(t, noPerms.Authorized(m))
}
