package scenario

import (
	"errors"
	"fmt"

	"github.com/parleyhq/parley/internal/models"
	"gorm.io/gorm"
)

// ActiveScript loads the active bot for a channel and parses its active
// scenario. Returns (nil, nil, nil) when no bot serves the channel, and
// (bot, nil, nil) when the bot has no usable scenario. A malformed script
// marks the bot invalid so it is skipped until an operator repairs it;
// the parse error is returned for logging.
func ActiveScript(db *gorm.DB, channelID uint) (*models.Bot, *Script, error) {
	var bot models.Bot
	err := db.Where("channel_id = ? AND active = ? AND invalid = ?", channelID, true, false).
		First(&bot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("scenario: find bot for channel %d: %w", channelID, err)
	}

	var sc models.Scenario
	if bot.ActiveScenarioID != nil {
		err = db.Where("id = ? AND active = ?", *bot.ActiveScenarioID, true).First(&sc).Error
	} else {
		err = db.Where("bot_id = ? AND is_default = ? AND active = ?", bot.ID, true, true).
			Order("version DESC").First(&sc).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &bot, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("scenario: find scenario for bot %d: %w", bot.ID, err)
	}

	script, perr := Parse(sc.Nodes)
	if perr != nil {
		markInvalid(db, bot.ID, perr)
		return &bot, nil, perr
	}
	return &bot, script, nil
}

// markInvalid flags the bot so later evaluations skip it. Best-effort: a
// write failure here leaves the bot retried on the next inbound message.
func markInvalid(db *gorm.DB, botID uint, cause error) {
	db.Model(&models.Bot{}).Where("id = ?", botID).Updates(map[string]interface{}{
		"invalid":        true,
		"invalid_reason": cause.Error(),
	})
}
