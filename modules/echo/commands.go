package echo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ex-mimic/internal/archive"
	"ex-mimic/internal/mimic"
	"ex-mimic/pkg/otogi"
)

const (
	replyPermissionDenied = "permission denied"
	replyOK               = "OK"
	replyArchiveDisabled  = "ARCHIVE DISABLED"
)

// commandCall is one permitted command invocation.
type commandCall struct {
	event      *otogi.Event
	invocation *otogi.CommandInvocation
	scope      mimic.ScopeID
	actor      mimic.UserID
}

func (c commandCall) args() []string {
	return c.invocation.Args
}

type echoCommand struct {
	spec otogi.CommandSpec
	// role is the lowest role allowed to run the command.
	role mimic.Role
	run  func(m *Module, ctx context.Context, call commandCall) string
}

func ordinary(name, description string, args []string, minArgs, maxArgs int) otogi.CommandSpec {
	return otogi.CommandSpec{
		Prefix:      otogi.CommandPrefixOrdinary,
		Name:        name,
		Description: description,
		Args:        args,
		MinArgs:     minArgs,
		MaxArgs:     maxArgs,
	}
}

func system(name, description string, args []string, minArgs, maxArgs int) otogi.CommandSpec {
	spec := ordinary(name, description, args, minArgs, maxArgs)
	spec.Prefix = otogi.CommandPrefixSystem
	return spec
}

var echoCommands = []echoCommand{
	{spec: ordinary("whitelist", "toggle storing your own messages", nil, 0, 0), role: mimic.RoleUser, run: (*Module).runWhitelist},
	{spec: ordinary("info", "show uptime, snapshot age and storage size", nil, 0, 0), role: mimic.RoleUser, run: (*Module).runInfo},
	{spec: ordinary("info_proc", "show the emission rate and mutators of this chat", nil, 0, 0), role: mimic.RoleUser, run: (*Module).runInfoProc},
	{spec: ordinary("info_content", "list authors of stored messages matching the replied message", []string{"text"}, 0, -1), role: mimic.RoleUser, run: (*Module).runInfoContent},
	{spec: ordinary("delete_content", "delete stored messages matching the replied message", []string{"text"}, 0, -1), role: mimic.RoleUser, run: (*Module).runDeleteContent},
	{spec: system("delete_user", "delete every stored message of one user in this chat", []string{"user_id"}, 1, 1), role: mimic.RoleModerator, run: (*Module).runDeleteUser},
	{spec: system("proc", "set the emission rate of this chat", []string{"min", "max", "out_of"}, 3, 3), role: mimic.RoleModerator, run: (*Module).runProc},
	{spec: system("sleep", "toggle silence in this chat", nil, 0, 0), role: mimic.RoleModerator, run: (*Module).runSleep},
	{spec: system("mutators", "list or set the allowed mutators of this chat", []string{"names"}, 0, -1), role: mimic.RoleModerator, run: (*Module).runMutators},
	{spec: system("moderator", "toggle moderator rights of one user", []string{"user_id"}, 1, 1), role: mimic.RoleOwner, run: (*Module).runModerator},
	{spec: system("blacklist", "toggle blacklisting of one user", []string{"user_id"}, 1, 1), role: mimic.RoleOwner, run: (*Module).runBlacklist},
	{spec: system("snapshot", "archive the whole state now", nil, 0, 0), role: mimic.RoleOwner, run: (*Module).runSnapshot},
	{spec: system("restore", "restore the newest or the given archived snapshot", []string{"record_id"}, 0, 1), role: mimic.RoleOwner, run: (*Module).runRestore},
}

func commandSpecs() []otogi.CommandSpec {
	specs := make([]otogi.CommandSpec, 0, len(echoCommands))
	for _, command := range echoCommands {
		specs = append(specs, command.spec)
	}
	return specs
}

func lookupCommand(prefix otogi.CommandPrefix, name string) (echoCommand, bool) {
	for _, command := range echoCommands {
		if command.spec.Prefix == prefix && command.spec.Name == name {
			return command, true
		}
	}
	return echoCommand{}, false
}

func (m *Module) handleCommand(ctx context.Context, event *otogi.Event) error {
	if event == nil || event.Command == nil || event.Message == nil {
		return nil
	}
	command, ok := lookupCommand(event.Command.Prefix, event.Command.Name)
	if !ok {
		return nil
	}

	call := commandCall{
		event:      event,
		invocation: event.Command,
		scope:      scopeOf(event),
		actor:      mimic.UserID(event.Actor.ID),
	}
	reply := replyPermissionDenied
	if m.coordinator.RoleOf(call.actor) >= command.role {
		reply = command.run(m, ctx, call)
	} else {
		m.logger.InfoContext(ctx, "echo command denied",
			"command", command.spec.Usage(),
			"actor", call.actor,
			"scope", call.scope,
		)
	}

	return m.reply(ctx, event, reply)
}

func (m *Module) reply(ctx context.Context, event *otogi.Event, text string) error {
	if text == "" {
		return nil
	}
	if m.dispatcher == nil {
		return fmt.Errorf("echo reply: sink dispatcher not configured")
	}
	target, err := otogi.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("echo reply derive target: %w", err)
	}
	sent, err := m.dispatcher.SendMessage(ctx, otogi.SendMessageRequest{
		Target:           target,
		Text:             text,
		ReplyToMessageID: event.Message.ID,
	})
	if err != nil {
		return fmt.Errorf("echo reply %s: %w", event.Command.Name, err)
	}
	m.recent.remember(event.Conversation.ID, sent.ID, text)

	return nil
}

func (m *Module) runWhitelist(_ context.Context, call commandCall) string {
	if m.coordinator.ToggleWhitelist(call.actor) == mimic.ToggleAdded {
		return fmt.Sprintf("ADDED USER %s", call.actor)
	}
	return fmt.Sprintf("REMOVED USER %s", call.actor)
}

func (m *Module) runInfo(_ context.Context, call commandCall) string {
	stats := m.coordinator.Stats()
	stored := 0
	if info, err := m.coordinator.ScopeInfo(call.scope); err == nil {
		stored = info.Utterances
	}

	return fmt.Sprintf(
		"MIMIC %s\nRUNNING FOR: %dh\nTIME SINCE SNAPSHOT: %dh\nON %d CHATS\nSTORING %d MESSAGES ON CURRENT ONE",
		m.version,
		int(stats.Uptime/time.Hour),
		int(stats.SinceLastSnapshot/time.Hour),
		stats.Scopes,
		stored,
	)
}

func (m *Module) runInfoProc(_ context.Context, call commandCall) string {
	info, err := m.coordinator.ScopeInfo(call.scope)
	if err != nil {
		return "NOTHING STORED IN THIS CHAT YET"
	}
	proc := info.Proc

	return fmt.Sprintf(
		"MIN_PROC:%d\nMAX_PROC:%d\nPROC_OUT_OF:%d\nCURRENT_PROC:%d\nCHANCE OF RANDOM REPLY: %d out of %d tries\nMUTATORS: %s",
		proc.Min, proc.Max, proc.OutOf, proc.Current,
		proc.Current, proc.OutOf,
		mutatorList(info.Mutators),
	)
}

func (m *Module) runInfoContent(_ context.Context, call commandCall) string {
	content, ok := m.contentOf(call)
	if !ok {
		return "PLEASE REPLY TO A MESSAGE TO USE AS CONTENT"
	}
	found := m.coordinator.FindContent(call.scope, content)
	if len(found) == 0 {
		return "NO STORED MESSAGE MATCHES"
	}

	var builder strings.Builder
	builder.WriteString("MESSAGE ORIGINALLY SENT BY USERS:")
	for _, utterance := range found {
		builder.WriteString("\n")
		builder.WriteString(string(utterance.AuthorID))
	}
	return builder.String()
}

func (m *Module) runDeleteContent(ctx context.Context, call commandCall) string {
	content, ok := m.contentOf(call)
	if !ok {
		return "PLEASE REPLY TO MESSAGE TO DELETE"
	}
	deleted := m.coordinator.DeleteContent(call.scope, content)
	m.logger.InfoContext(ctx, "echo content deleted", "scope", call.scope, "actor", call.actor, "deleted", deleted)

	return fmt.Sprintf("DELETED %d", deleted)
}

func (m *Module) runDeleteUser(ctx context.Context, call commandCall) string {
	author, ok := userArgument(call)
	if !ok {
		return "PLEASE NAME A USER"
	}
	deleted := m.coordinator.DeleteAuthor(call.scope, author)
	m.logger.InfoContext(ctx, "echo author deleted", "scope", call.scope, "author", author, "deleted", deleted)

	return fmt.Sprintf("DELETED %d", deleted)
}

func (m *Module) runProc(_ context.Context, call commandCall) string {
	values := make([]int, 0, 3)
	for _, raw := range call.args() {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			return fmt.Sprintf("%v: %q is not a non-negative number", mimic.ErrInvalidProcConfig, raw)
		}
		values = append(values, value)
	}
	if _, err := m.coordinator.ConfigureProc(call.scope, values[0], values[1], values[2]); err != nil {
		return err.Error()
	}

	return replyOK
}

func (m *Module) runSleep(_ context.Context, call commandCall) string {
	if m.coordinator.ToggleSleep(call.scope) {
		return "A mimir"
	}
	return "Good morning!"
}

func (m *Module) runMutators(_ context.Context, call commandCall) string {
	args := call.args()
	if len(args) == 0 {
		names := mutatorNames(mimic.DefaultMutators())
		if info, err := m.coordinator.ScopeInfo(call.scope); err == nil {
			names = info.Mutators
		}
		return "MUTATORS: " + mutatorList(names)
	}

	kinds := make([]mimic.MutatorKind, 0, len(args))
	if !(len(args) == 1 && strings.EqualFold(args[0], "none")) {
		for _, name := range args {
			kind, err := mimic.ParseMutatorKind(name)
			if err != nil {
				return fmt.Sprintf("%v (known: %s)", err, mutatorList(mutatorNames(mimic.DefaultMutators())))
			}
			kinds = append(kinds, kind)
		}
	}
	m.coordinator.SetMutators(call.scope, kinds)

	return replyOK
}

func (m *Module) runModerator(_ context.Context, call commandCall) string {
	id, ok := userArgument(call)
	if !ok {
		return "PLEASE NAME A USER"
	}
	if m.coordinator.ToggleModerator(id) == mimic.ToggleAdded {
		return fmt.Sprintf("ADDED MODERATOR %s", id)
	}
	return fmt.Sprintf("REMOVED MODERATOR %s", id)
}

func (m *Module) runBlacklist(_ context.Context, call commandCall) string {
	id, ok := userArgument(call)
	if !ok {
		return "PLEASE NAME A USER"
	}
	if m.coordinator.ToggleBlacklist(id) == mimic.ToggleAdded {
		return fmt.Sprintf("BLACKLISTED %s", id)
	}
	return fmt.Sprintf("UNBLACKLISTED %s", id)
}

func (m *Module) runSnapshot(ctx context.Context, _ commandCall) string {
	if m.archive == nil {
		return replyArchiveDisabled
	}
	blob, err := m.coordinator.Snapshot()
	if err != nil {
		m.logger.ErrorContext(ctx, "echo snapshot failed", "error", err)
		return "SNAPSHOT FAILED"
	}
	record, err := m.archive.Put(ctx, blob)
	if err != nil {
		m.logger.ErrorContext(ctx, "echo snapshot archive failed", "error", err)
		return "SNAPSHOT FAILED"
	}
	m.logger.InfoContext(ctx, "echo snapshot archived on request", "record", record.ID, "size", record.Size)

	return record.ID
}

func (m *Module) runRestore(ctx context.Context, call commandCall) string {
	if m.archive == nil {
		return replyArchiveDisabled
	}

	var (
		blob []byte
		err  error
	)
	if args := call.args(); len(args) == 1 {
		blob, err = m.archive.Get(ctx, args[0])
	} else {
		_, blob, err = m.archive.Latest(ctx)
	}
	if errors.Is(err, archive.ErrNotFound) {
		return "SNAPSHOT NOT FOUND"
	}
	if err != nil {
		m.logger.ErrorContext(ctx, "echo restore load failed", "error", err)
		return "RESTORE FAILED"
	}
	if err := m.coordinator.Restore(blob); err != nil {
		m.logger.ErrorContext(ctx, "echo restore failed", "error", err)
		return "RESTORE FAILED"
	}
	m.logger.InfoContext(ctx, "echo state restored on request", "actor", call.actor)

	return "RESTORED"
}

// contentOf returns the command argument text, else the text of the replied message.
func (m *Module) contentOf(call commandCall) (string, bool) {
	if value := strings.TrimSpace(call.invocation.Value()); value != "" {
		return value, true
	}
	message := call.event.Message
	if message.ReplyToText != "" {
		return message.ReplyToText, true
	}
	if message.ReplyToID == "" {
		return "", false
	}
	text, ok := m.recent.text(call.event.Conversation.ID, message.ReplyToID)
	if !ok || text == "" {
		return "", false
	}

	return text, true
}

// userArgument prefers an id-bound mention over the raw first argument.
func userArgument(call commandCall) (mimic.UserID, bool) {
	for _, entity := range call.event.Message.Entities {
		if entity.Type == otogi.TextEntityTypeMentionName && entity.UserID != "" {
			return mimic.UserID(entity.UserID), true
		}
	}
	args := call.args()
	if len(args) == 0 {
		return "", false
	}
	id := strings.TrimPrefix(strings.TrimSpace(args[0]), "@")
	if id == "" {
		return "", false
	}

	return mimic.UserID(id), true
}

func mutatorNames(kinds []mimic.MutatorKind) []string {
	names := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		names = append(names, kind.String())
	}
	return names
}

func mutatorList(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ", ")
}
