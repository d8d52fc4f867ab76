package game

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tatianab/storyforge/internal/config"
	"github.com/tatianab/storyforge/internal/engine"
	"github.com/tatianab/storyforge/internal/models"
	"github.com/tatianab/storyforge/internal/provider"
	"github.com/tatianab/storyforge/internal/provider/providertest"
	"github.com/tatianab/storyforge/internal/storage"
)

const testKey = "AIzaSyD-test-key-0123456789"

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testSettings() config.Settings {
	s := config.DefaultSettings()
	s.APIKey = testKey
	s.AudioEnabled = false
	s.ImageEnabled = false
	s.Autosave = false
	s.Retry.MaxAttempts = 2
	return s
}

type fixture struct {
	session *Session
	cfg     *config.Store
	dir     string
}

func newFixture(t *testing.T, capability provider.Capability, settings config.Settings) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cfg, err := config.NewStore(settings, logger)
	require.NoError(t, err)

	dir := t.TempDir()
	store := storage.NewEngine(logger)
	s, err := New(Options{
		Capability: capability,
		Config:     cfg,
		Storage:    store,
		Media:      storage.NewMediaStore(dir, store),
		SaveDir:    dir,
		Logger:     logger,
		Sleep:      func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
		Now:        func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return &fixture{session: s, cfg: cfg, dir: dir}
}

func (f *fixture) start(t *testing.T) *models.GameState {
	t.Helper()
	state, err := f.session.NewGame(models.NewGameOptions{Identity: "A wandering smith"})
	require.NoError(t, err)
	return state
}

func TestOpenTheDoor(t *testing.T) {
	f := newFixture(t, providertest.Narrate("The door creaks open."), testSettings())
	f.start(t)

	res, err := f.session.SubmitAction(context.Background(), "open the door", nil)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusCompleted, res.Status)
	assert.Equal(t, "The door creaks open.", res.Narrative)

	state := f.session.State()
	require.Len(t, state.NarrativeLog, 1)
	turn := state.NarrativeLog[0]
	assert.Equal(t, "open the door", turn.Action)
	assert.Equal(t, "The door creaks open.", turn.Narrative)
	assert.Equal(t, testNow, turn.Timestamp)
	assert.Empty(t, turn.AudioRef)
}

func TestSubmitActionAppendsExactlyOneTurn(t *testing.T) {
	fake := providertest.Narrate("Time passes.\n---\ntime: \"08:00\"\noptions:\n  - Wait\n")
	f := newFixture(t, fake, testSettings())
	f.start(t)

	prev := []models.Turn{}
	for i := range 6 {
		res, err := f.session.SubmitAction(context.Background(), "wait", nil)
		require.NoError(t, err)
		require.Equal(t, engine.StatusCompleted, res.Status)

		log := f.session.State().NarrativeLog
		require.Len(t, log, i+1)
		assert.Equal(t, prev, log[:i], "earlier turns must not change")
		assert.Equal(t, "Time passes.", log[i].Narrative)
		prev = log
	}
	assert.Equal(t, []string{"Wait"}, f.session.State().Options)
	assert.Equal(t, 6, f.session.Usage().Turns)
}

func TestDegradedResultIsApplied(t *testing.T) {
	fake := providertest.Narrate("The door creaks open.")
	fake.Speech = []providertest.MediaStep{{Err: provider.Invalid(errors.New("voice not found"))}}
	s := testSettings()
	s.AudioEnabled = true
	f := newFixture(t, fake, s)
	f.start(t)

	res, err := f.session.SubmitAction(context.Background(), "open the door", nil)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusDegraded, res.Status)

	log := f.session.State().NarrativeLog
	require.Len(t, log, 1)
	assert.Equal(t, "The door creaks open.", log[0].Narrative)
	assert.Empty(t, log[0].AudioRef)
}

func TestMediaReferencesAreRecorded(t *testing.T) {
	s := testSettings()
	s.AudioEnabled = true
	f := newFixture(t, providertest.Narrate("A bell tolls."), s)
	f.start(t)

	_, err := f.session.SubmitAction(context.Background(), "listen", nil)
	require.NoError(t, err)

	turn := f.session.State().NarrativeLog[0]
	require.NotEmpty(t, turn.AudioRef)
	assert.FileExists(t, filepath.Join(f.dir, filepath.FromSlash(turn.AudioRef)))
}

func TestFailedGenerationLeavesStateUnchanged(t *testing.T) {
	tests := []struct {
		name     string
		fake     *providertest.Fake
		settings func(*config.Settings)
		want     error
	}{
		{
			name: "malformed",
			fake: providertest.Narrate("Story.\n---\nday: [\n"),
			want: engine.ErrMalformedResponse,
		},
		{
			name: "unavailable",
			fake: &providertest.Fake{Text: []providertest.TextStep{{Err: provider.Transient(errors.New("503"))}}},
			want: engine.ErrProviderUnavailable,
		},
		{
			name:     "invalid credential",
			fake:     providertest.Narrate("Story."),
			settings: func(s *config.Settings) { s.APIKey = "" },
			want:     engine.ErrInvalidCredential,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSettings()
			s.Autosave = true
			if tt.settings != nil {
				tt.settings(&s)
			}
			f := newFixture(t, tt.fake, s)
			f.start(t)
			before := f.session.State()

			res, err := f.session.SubmitAction(context.Background(), "open the door", nil)
			require.NoError(t, err)
			assert.Equal(t, engine.StatusFailed, res.Status)
			assert.ErrorIs(t, res.Err, tt.want)
			assert.Equal(t, before, f.session.State())

			saves, err := f.session.ListSaves()
			require.NoError(t, err)
			assert.Empty(t, saves, "nothing to autosave")
		})
	}
}

func TestCancelGeneration(t *testing.T) {
	fake := providertest.Narrate("The door")
	fake.Hold = make(chan struct{})
	fake.Started = make(chan struct{}, 1)
	f := newFixture(t, fake, testSettings())
	f.start(t)
	before := f.session.State()

	assert.False(t, f.session.CancelGeneration())

	done := make(chan *engine.Result, 1)
	go func() {
		res, err := f.session.SubmitAction(context.Background(), "open the door", nil)
		assert.NoError(t, err)
		done <- res
	}()
	select {
	case <-fake.Started:
	case <-time.After(5 * time.Second):
		t.Fatal("generation never started")
	}

	_, err := f.session.SubmitAction(context.Background(), "again", nil)
	assert.ErrorIs(t, err, engine.ErrBusy)
	assert.True(t, f.session.CancelGeneration())

	var res *engine.Result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled action did not return")
	}
	assert.Equal(t, engine.StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, engine.ErrCancelled)
	assert.Equal(t, before, f.session.State())
}

func TestSubmitActionPreconditions(t *testing.T) {
	f := newFixture(t, providertest.Narrate("You wake.\n---\nstatus: lost\n"), testSettings())

	_, err := f.session.SubmitAction(context.Background(), "look", nil)
	assert.ErrorIs(t, err, ErrNoGame)

	f.start(t)
	res, err := f.session.SubmitAction(context.Background(), "", nil)
	require.NoError(t, err, "the opening turn needs no action")
	require.Equal(t, engine.StatusCompleted, res.Status)

	_, err = f.session.SubmitAction(context.Background(), "  ", nil)
	assert.ErrorIs(t, err, ErrGameOver)
}

func TestEmptyActionAfterOpening(t *testing.T) {
	f := newFixture(t, providertest.Narrate("You wake."), testSettings())
	f.start(t)
	_, err := f.session.SubmitAction(context.Background(), "", nil)
	require.NoError(t, err)

	_, err = f.session.SubmitAction(context.Background(), " \t", nil)
	assert.ErrorIs(t, err, ErrEmptyAction)
}

func TestStreamingReachesCaller(t *testing.T) {
	f := newFixture(t, providertest.Narrate("The door ", "creaks open.\n---\nday: 1\n"), testSettings())
	f.start(t)

	var text string
	_, err := f.session.SubmitAction(context.Background(), "open the door", func(c engine.Chunk) {
		text += c.Text
	})
	require.NoError(t, err)
	assert.Equal(t, "The door creaks open.\n", text)
}

func TestNewGame(t *testing.T) {
	f := newFixture(t, providertest.Narrate("x"), testSettings())

	state, err := f.session.NewGame(models.NewGameOptions{Identity: "  A smith  ", Style: "high fantasy", Difficulty: "Hard"})
	require.NoError(t, err)
	assert.Equal(t, "A smith", state.Player.Identity)
	assert.Equal(t, "high fantasy", state.Settings.Style)
	assert.Empty(t, state.NarrativeLog)
	assert.Equal(t, testNow, state.CreatedAt)

	state, err = f.session.NewGame(models.NewGameOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Grim Fantasy", state.Settings.Style)
	assert.Equal(t, "Story", state.Settings.Difficulty)

	_, err = f.session.NewGame(models.NewGameOptions{Style: "Space Opera"})
	assert.Error(t, err)
	assert.Equal(t, state, f.session.State(), "a rejected new game keeps the current one")
}

func TestStateIsACopy(t *testing.T) {
	f := newFixture(t, providertest.Narrate("x"), testSettings())
	assert.Nil(t, f.session.State())
	f.start(t)

	s := f.session.State()
	s.Player.Attributes["Name"] = "Mallory"
	s.Player.Identity = "changed"
	assert.Equal(t, "A wandering smith", f.session.State().Player.Identity)
	assert.NotContains(t, f.session.State().Player.Attributes, "Name")
}

func TestSaveAndLoad(t *testing.T) {
	f := newFixture(t, providertest.Narrate("The door creaks open."), testSettings())

	assert.ErrorIs(t, f.session.SaveGame(f.session.SlotPath("slot")), ErrNoGame)

	f.start(t)
	_, err := f.session.SubmitAction(context.Background(), "open the door", nil)
	require.NoError(t, err)
	saved := f.session.State()

	path := f.session.SlotPath("slot")
	require.NoError(t, f.session.SaveGame(path))

	f.start(t)
	loaded, err := f.session.LoadGame(path)
	require.NoError(t, err)
	assert.Equal(t, saved, loaded)
	assert.Equal(t, saved, f.session.State())
	assert.Zero(t, f.session.Usage(), "usage restarts with a loaded game")
}

func TestFailedLoadKeepsCurrentGame(t *testing.T) {
	f := newFixture(t, providertest.Narrate("x"), testSettings())
	f.start(t)
	before := f.session.State()

	path := filepath.Join(f.dir, "broken.sav")
	require.NoError(t, os.WriteFile(path, []byte("# storyforge-save v3 sha256=00\nid: nope\n"), 0o644))

	_, err := f.session.LoadGame(path)
	assert.ErrorIs(t, err, storage.ErrCorrupt)
	assert.Equal(t, before, f.session.State())

	_, err = f.session.LoadGame(filepath.Join(f.dir, "missing.sav"))
	assert.ErrorIs(t, err, storage.ErrIOFailure)
	assert.Equal(t, before, f.session.State())
}

func TestAutosave(t *testing.T) {
	s := testSettings()
	s.Autosave = true
	f := newFixture(t, providertest.Narrate("The door creaks open."), s)
	state := f.start(t)

	_, err := f.session.SubmitAction(context.Background(), "open the door", nil)
	require.NoError(t, err)

	path := filepath.Join(f.dir, state.ID+storage.Ext)
	require.FileExists(t, path)
	loaded, err := storage.NewEngine(nil).Load(path)
	require.NoError(t, err)
	assert.Equal(t, f.session.State(), loaded)

	require.NoError(t, f.session.UpdateSettings(func(s *config.Settings) { s.Autosave = false }))
	_, err = f.session.SubmitAction(context.Background(), "close the door", nil)
	require.NoError(t, err)
	loaded, err = storage.NewEngine(nil).Load(path)
	require.NoError(t, err)
	assert.Len(t, loaded.NarrativeLog, 1)
}

func TestListAndDeleteSaves(t *testing.T) {
	f := newFixture(t, providertest.Narrate("x"), testSettings())
	f.start(t)
	require.NoError(t, f.session.SaveGame(f.session.SlotPath("first")))
	require.NoError(t, f.session.SaveGame(f.session.SlotPath("second")))

	saves, err := f.session.ListSaves()
	require.NoError(t, err)
	var names []string
	for _, m := range saves {
		names = append(names, m.Name)
		assert.Equal(t, "A wandering smith", m.Character)
	}
	assert.ElementsMatch(t, []string{"first", "second"}, names)

	require.NoError(t, f.session.DeleteSave("first"))
	saves, err = f.session.ListSaves()
	require.NoError(t, err)
	require.Len(t, saves, 1)
	assert.Equal(t, "second", saves[0].Name)

	assert.ErrorIs(t, f.session.DeleteSave("first"), storage.ErrIOFailure)
}

func TestUpdateCredential(t *testing.T) {
	p := &providertest.Probing{Fake: providertest.Narrate("x")}
	s := testSettings()
	s.APIKey = ""
	f := newFixture(t, p, s)

	assert.ErrorIs(t, f.session.UpdateCredential(context.Background(), "short"), config.ErrMalformedAPIKey)
	assert.Empty(t, p.Probes(), "malformed keys are never probed")

	p.ProbeErr = provider.Auth(errors.New("API key not valid"))
	err := f.session.UpdateCredential(context.Background(), testKey)
	assert.True(t, provider.IsAuth(err))
	assert.Empty(t, f.cfg.Snapshot().APIKey)

	p.ProbeErr = nil
	require.NoError(t, f.session.UpdateCredential(context.Background(), " "+testKey+" "))
	assert.Equal(t, testKey, f.cfg.Snapshot().APIKey)
	probes := p.Probes()
	require.Len(t, probes, 2)
	assert.Equal(t, testKey, probes[1].APIKey)

	f.start(t)
	res, err := f.session.SubmitAction(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusCompleted, res.Status)
}

func TestReport(t *testing.T) {
	s := testSettings()
	s.AudioEnabled = true
	f := newFixture(t, providertest.Narrate("x"), s)
	f.start(t)
	_, err := f.session.SubmitAction(context.Background(), "", nil)
	require.NoError(t, err)

	u := f.session.Usage()
	assert.Equal(t, 1, u.Turns)
	assert.Equal(t, 100, u.TextPromptTokens)
	assert.Equal(t, 300, u.AudioOutputTokens)

	r := f.session.Report()
	assert.Equal(t, u, r.Usage)
	assert.Greater(t, r.Total, 0.0)
	assert.InDelta(t, r.TextCost+r.AudioCost+r.ImageCost, r.Total, 1e-12)
}

func TestRejectedKeyIsReportedAsInvalidCredential(t *testing.T) {
	p := &providertest.Probing{
		Fake:     providertest.Narrate("x"),
		ProbeErr: provider.FromStatus(400, errors.New("API key not valid. Please pass a valid API key.")),
	}
	f := newFixture(t, p, testSettings())
	f.start(t)

	res, err := f.session.SubmitAction(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, engine.ErrInvalidCredential)
	assert.Contains(t, res.Err.UserMessage(), "/key")
	assert.Empty(t, f.session.State().NarrativeLog)
}

func TestFailedTurnStillBillsTokens(t *testing.T) {
	fake := &providertest.Fake{Text: []providertest.TextStep{{
		Chunks: []string{"Half a sto"},
		Err:    provider.Transient(errors.New("stream dropped")),
		Usage:  provider.Usage{PromptTokens: 100, OutputTokens: 5},
	}}}
	f := newFixture(t, fake, testSettings())
	f.start(t)

	res, err := f.session.SubmitAction(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusFailed, res.Status)

	u := f.session.Usage()
	assert.Zero(t, u.Turns)
	assert.Equal(t, 200, u.TextPromptTokens, "both attempts were billed")
	assert.Equal(t, 10, u.TextOutputTokens)
	assert.Greater(t, f.session.Report().TextCost, 0.0)
}

func TestWorldChoices(t *testing.T) {
	f := newFixture(t, providertest.Narrate("x"), testSettings())
	styles, difficulties := f.session.Styles(), f.session.Difficulties()
	require.NotEmpty(t, styles)
	require.NotEmpty(t, difficulties)
	assert.Equal(t, "Grim Fantasy", styles[0])
	assert.Contains(t, difficulties, "Hard")

	state, err := f.session.NewGame(models.NewGameOptions{Style: styles[len(styles)-1], Difficulty: "Hard"})
	require.NoError(t, err)
	assert.Equal(t, models.Settings{Style: styles[len(styles)-1], Difficulty: "Hard"}, state.Settings)
}
