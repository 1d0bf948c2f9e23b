package scenario

import (
	"testing"

	"github.com/parleyhq/parley/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.Bot{}, &models.Scenario{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

const loadableScript = `[{"id": "d", "kind": "text", "trigger": {"default": true}, "text": "hi"}]`

func TestActiveScriptNoBot(t *testing.T) {
	db := testDB(t)
	bot, script, err := ActiveScript(db, 1)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if bot != nil || script != nil {
		t.Error("expected nothing for an unserved channel")
	}
}

func TestActiveScriptDefaultScenario(t *testing.T) {
	db := testDB(t)
	bot := models.Bot{ChannelID: 1, Active: true}
	db.Create(&bot)
	db.Create(&models.Scenario{BotID: bot.ID, Version: 1, IsDefault: true, Active: true, Nodes: loadableScript})
	db.Create(&models.Scenario{BotID: bot.ID, Version: 2, IsDefault: true, Active: true,
		Nodes: `[{"id": "d", "kind": "text", "trigger": {"default": true}, "text": "v2"}]`})

	got, script, err := ActiveScript(db, 1)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if got == nil || script == nil {
		t.Fatal("expected bot and script")
	}
	// Highest version wins.
	if script.Nodes[0].Text != "v2" {
		t.Errorf("loaded version with text %q, want v2", script.Nodes[0].Text)
	}
}

func TestActiveScriptPinnedScenario(t *testing.T) {
	db := testDB(t)
	pinned := models.Scenario{BotID: 1, Version: 1, Active: true, Nodes: loadableScript}
	db.Create(&pinned)
	bot := models.Bot{ChannelID: 1, Active: true, ActiveScenarioID: &pinned.ID}
	db.Create(&bot)

	_, script, err := ActiveScript(db, 1)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if script == nil {
		t.Fatal("pinned scenario not loaded")
	}
}

func TestActiveScriptMarksMalformedBotInvalid(t *testing.T) {
	db := testDB(t)
	bot := models.Bot{ChannelID: 1, Active: true}
	db.Create(&bot)
	db.Create(&models.Scenario{BotID: bot.ID, Version: 1, IsDefault: true, Active: true, Nodes: "not json"})

	got, script, err := ActiveScript(db, 1)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if got == nil || script != nil {
		t.Error("expected bot without script")
	}

	var reloaded models.Bot
	db.First(&reloaded, bot.ID)
	if !reloaded.Invalid || reloaded.InvalidReason == "" {
		t.Error("bot not marked invalid")
	}

	// Invalid bots are skipped on the next lookup.
	got, _, err = ActiveScript(db, 1)
	if err != nil || got != nil {
		t.Errorf("invalid bot should be skipped, got bot=%v err=%v", got, err)
	}
}

func TestActiveScriptBotWithoutScenario(t *testing.T) {
	db := testDB(t)
	bot := models.Bot{ChannelID: 1, Active: true, DefaultResponse: "We are away."}
	db.Create(&bot)

	got, script, err := ActiveScript(db, 1)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if got == nil {
		t.Fatal("expected the bot back")
	}
	if script != nil {
		t.Error("expected no script")
	}
}
