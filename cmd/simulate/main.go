// Command simulate plays a game headlessly, letting a second model act as
// the player. It prints the story and the final costs to stdout.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/tatianab/storyforge/internal/config"
	"github.com/tatianab/storyforge/internal/engine"
	"github.com/tatianab/storyforge/internal/game"
	"github.com/tatianab/storyforge/internal/logger"
	"github.com/tatianab/storyforge/internal/models"
	"github.com/tatianab/storyforge/internal/provider"
	"github.com/tatianab/storyforge/internal/provider/gemini"
	"github.com/tatianab/storyforge/internal/storage"
)

const maxTurns = 10

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	env, err := config.LoadEnv()
	if err != nil {
		log.Fatalf("Failed to load environment: %v", err)
	}
	zl, err := logger.New(env.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	stored, err := config.Open(env, zl)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	// Simulations never spend on media and never touch the user's settings file.
	settings := stored.Snapshot()
	settings.AudioEnabled = false
	settings.ImageEnabled = false
	cfg, err := config.NewStore(settings, zl)
	if err != nil {
		log.Fatalf("Invalid settings: %v", err)
	}

	client := gemini.New(gemini.Options{RequestsPerMinute: settings.RequestsPerMinute, Logger: zl})
	saveDir := filepath.Join(env.SaveDir, "simulations")
	session, err := game.New(game.Options{
		Capability: client,
		Config:     cfg,
		Storage:    storage.NewEngine(zl),
		SaveDir:    saveDir,
		Logger:     zl,
	})
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}

	player := &player{capability: client, settings: cfg}

	// 1. Ask the player model who they are.
	fmt.Println("--- Step 1: Requesting a character from the Player LLM ---")
	identity := player.ask(ctx, "You are a player about to start a fantasy role-playing game. "+
		"Describe your character in one short sentence (e.g., 'a retired sellsword with a bad knee'). "+
		"Return ONLY the description.", "a curious traveller")
	fmt.Printf("Player is: %s\n\n", identity)

	if _, err := session.NewGame(models.NewGameOptions{Identity: identity}); err != nil {
		log.Fatalf("Failed to start game: %v", err)
	}

	// 2. Play, starting with the opening turn.
	action := ""
	for turn := 0; turn <= maxTurns; turn++ {
		if turn == 0 {
			fmt.Println("--- Opening ---")
		} else {
			fmt.Printf("--- Turn %d ---\nPlayer Action: %s\n", turn, action)
		}

		res, err := session.SubmitAction(ctx, action, printChunk)
		fmt.Println()
		if err != nil {
			fmt.Printf("Action not attempted: %v\n", err)
			break
		}
		if res.Err != nil {
			zl.Warn("turn failed", zap.Error(res.Err))
			fmt.Printf("Turn failed: %s\n", res.Err.UserMessage())
			break
		}

		state := session.State()
		pos := state.Player.Position
		fmt.Printf("Location: %s (day %d, %s)\n", pos.Location, pos.Day, pos.Time)
		fmt.Printf("Inventory: %s\n\n", itemNames(state.Player.Inventory))

		if state.Finished() {
			fmt.Printf("Game Ended: Player %s!\n", state.Status)
			break
		}
		action = player.next(ctx, state)
	}

	r := session.Report()
	fmt.Printf("\nTurns: %d  Text: $%.4f  Total: $%.4f  Per turn: $%.4f\n", r.Usage.Turns, r.TextCost, r.Total, r.PerTurn)
	if state := session.State(); state != nil {
		fmt.Printf("Autosaved to %s\n", storage.SlotPath(saveDir, state.ID))
	}
}

func printChunk(c engine.Chunk) {
	if c.Reset {
		fmt.Println("\n[retrying]")
		return
	}
	fmt.Print(c.Text)
}

func itemNames(items []models.Item) string {
	if len(items) == 0 {
		return "(empty)"
	}
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
	}
	return strings.Join(names, ", ")
}

// player asks a model what to do next.
type player struct {
	capability provider.Capability
	settings   *config.Store
}

func (p *player) ask(ctx context.Context, prompt, fallback string) string {
	s := p.settings.Snapshot()
	resp, err := p.capability.GenerateText(ctx, provider.TextRequest{
		Credential:  provider.Credential{APIKey: s.APIKey},
		Model:       s.TextModel,
		Prompt:      prompt,
		Temperature: 1,
	}, nil)
	if err != nil {
		return fallback
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return fallback
	}
	return text
}

func (p *player) next(ctx context.Context, state *models.GameState) string {
	fallback := "look around"
	if len(state.Options) > 0 {
		fallback = state.Options[0]
	}

	var history strings.Builder
	for _, t := range state.NarrativeLog {
		fmt.Fprintf(&history, "Action: %s\nOutcome: %s\n", t.Action, t.Narrative)
	}

	prompt := fmt.Sprintf(`You are playing a fantasy role-playing game.
You are: %s
Current Location: %s
Inventory: %s
Suggested options: %s

History:
%s

What is your next action? Be creative but stay within the world's logic. Return ONLY the action string, no extra commentary.`,
		state.Player.Identity,
		state.Player.Position.Location,
		itemNames(state.Player.Inventory),
		strings.Join(state.Options, "; "),
		history.String(),
	)
	return p.ask(ctx, prompt, fallback)
}
