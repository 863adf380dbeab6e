package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"planner-bot/internal/config"
	"planner-bot/internal/model"
	"planner-bot/internal/repository"
	"planner-bot/internal/service"
)

const (
	cbSettingsPrefix      = "settings:"
	actionToggleDigest    = "toggle_digest"
	actionToggleDeadlines = "toggle_deadlines"
	actionChangeTime      = "change_time"
)

const (
	menuLabelTasks    = "📋 Задачи"
	menuLabelDigest   = "📨 Дайджест"
	menuLabelSettings = "⚙️ Настройки"
	menuLabelHelp     = "ℹ️ Помощь"
)

const dateLayout = "02.01.2006"

// Bot aggregates Telegram API with services.
type Bot struct {
	api       *tgbotapi.BotAPI
	userRepo  *repository.UserRepository
	settings  *service.SettingsService
	tasks     *service.TaskService
	reminders *service.ReminderService
	loc       *time.Location
	log       *logrus.Logger

	awaitingTime map[int64]bool
	mu           sync.Mutex
}

func New(token string, userRepo *repository.UserRepository, settings *service.SettingsService, tasks *service.TaskService, reminders *service.ReminderService, loc *time.Location, log *logrus.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	log.WithField("account", api.Self.UserName).Info("bot authorized")

	return &Bot{
		api:          api,
		userRepo:     userRepo,
		settings:     settings,
		tasks:        tasks,
		reminders:    reminders,
		loc:          loc,
		log:          log,
		awaitingTime: make(map[int64]bool),
	}, nil
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	b.log.Info("start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
				b.log.WithError(err).Warn("handle callback")
			}
		case update.Message != nil:
			if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
				continue
			}
			if err := b.handleMessage(ctx, update.Message); err != nil {
				b.log.WithError(err).Warn("handle message")
			}
		}
	}

	return ctx.Err()
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if msg.IsCommand() {
		b.log.WithFields(logrus.Fields{"from": msg.From.ID, "command": msg.Command()}).Info("command received")
		return b.handleCommand(ctx, msg)
	}

	if handled, err := b.handleMenuAlias(ctx, msg); handled {
		return err
	}

	if b.takeAwaitingTime(msg.From.ID) {
		return b.applyDigestTime(ctx, msg, msg.Text)
	}

	return b.sendText(msg.Chat.ID, "Я пока не понял сообщение. Набери /help для списка команд.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.handleHelp(msg)
	case "settings":
		return b.handleSettings(ctx, msg)
	case "time":
		return b.applyDigestTime(ctx, msg, msg.CommandArguments())
	case "digest":
		return b.handleDigest(ctx, msg)
	case "tasks":
		return b.handleListTasks(ctx, msg)
	case "newtask":
		return b.handleNewTask(ctx, msg)
	case "status":
		return b.handleStatus(ctx, msg)
	case "due":
		return b.handleDue(ctx, msg)
	case "note":
		return b.handleNote(ctx, msg)
	case "project":
		return b.handleProject(ctx, msg)
	case "cancel":
		b.takeAwaitingTime(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Ввод отменён.")
	default:
		return b.sendText(msg.Chat.ID, "Команда не поддерживается. Загляни в /help.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}

	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "друг"
	}

	text := fmt.Sprintf("👋 Привет, %s!\n<b>Я присылаю утренний дайджест и напоминаю о дедлайнах.</b>\n\n%s", escape(name), helpText)
	return b.sendText(msg.Chat.ID, text)
}

const helpText = "ℹ️ <b>Команды</b>\n" +
	"• /newtask Название | ДД.ММ.ГГГГ — добавить задачу\n" +
	"• /tasks — открытые задачи\n" +
	"• /status &lt;id&gt; — сменить статус задачи\n" +
	"• /due &lt;id&gt; ДД.ММ.ГГГГ — перенести дедлайн (или «-», чтобы убрать)\n" +
	"• /note текст — добавить заметку\n" +
	"• /project название — добавить проект\n" +
	"• /digest — показать дайджест сейчас\n" +
	"• /settings — настройки напоминаний\n" +
	"• /time ЧЧ:ММ — время дайджеста\n" +
	"• /cancel — отменить текущий ввод"

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	return b.sendText(msg.Chat.ID, helpText)
}

func (b *Bot) handleSettings(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	return b.sendWithReplyMarkup(msg.Chat.ID, settingsText(*user), settingsKeyboard(*user))
}

func (b *Bot) applyDigestTime(ctx context.Context, msg *tgbotapi.Message, raw string) error {
	hour, minute, err := config.ParseClock(raw)
	if err != nil {
		b.setAwaitingTime(msg.From.ID)
		return b.sendText(msg.Chat.ID, "Некорректный формат времени.\nИспользуй формат <code>ЧЧ:ММ</code>, например: <b>09:00</b> или <b>18:30</b>.")
	}

	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	user, err = b.settings.SetDigestTime(ctx, user, hour, minute)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось сохранить время: %s", escape(err.Error())))
	}

	if err := b.sendText(msg.Chat.ID, fmt.Sprintf("✅ Время дайджеста обновлено: <b>%02d:%02d</b>", hour, minute)); err != nil {
		return err
	}
	return b.sendWithReplyMarkup(msg.Chat.ID, settingsText(*user), settingsKeyboard(*user))
}

func (b *Bot) handleDigest(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	text, err := b.reminders.Preview(ctx, *user, time.Now())
	switch {
	case errors.Is(err, service.ErrEmptyDigest):
		return b.sendText(msg.Chat.ID, "Пока нечего показать: нет задач, заметок и проектов.")
	case err != nil:
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось сформировать дайджест: %s", escape(err.Error())))
	}
	return b.sendLong(msg.Chat.ID, text)
}

func (b *Bot) handleListTasks(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	tasks, err := b.tasks.ListOpen(ctx, user)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось получить задачи: %s", escape(err.Error())))
	}
	if len(tasks) == 0 {
		return b.sendText(msg.Chat.ID, "У тебя нет открытых задач. Добавь новую через /newtask.")
	}

	var builder strings.Builder
	builder.WriteString("📋 <b>Открытые задачи</b>\n\n")
	for _, task := range tasks {
		builder.WriteString(formatTask(task, b.loc))
	}
	return b.sendLong(msg.Chat.ID, strings.TrimSpace(builder.String()))
}

func (b *Bot) handleNewTask(ctx context.Context, msg *tgbotapi.Message) error {
	title, dueAt, err := parseNewTask(msg.CommandArguments(), time.Now(), b.loc)
	if err != nil {
		return b.sendText(msg.Chat.ID, escape(err.Error()))
	}

	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	task, err := b.tasks.CreateTask(ctx, user, service.TaskInput{Title: title, DueAt: dueAt})
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось сохранить задачу: %s", escape(err.Error())))
	}

	b.log.WithFields(logrus.Fields{"task": task.ID, "user": user.ID}).Info("task created")
	return b.sendText(msg.Chat.ID, "✅ Задача создана!\n"+formatTask(*task, b.loc))
}

func (b *Bot) handleStatus(ctx context.Context, msg *tgbotapi.Message) error {
	taskID, err := parseTaskID(msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, "Укажи ID задачи: /status 12")
	}

	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	task, err := b.tasks.CycleStatus(ctx, user, taskID)
	if err != nil {
		return b.replyTaskError(msg.Chat.ID, err)
	}
	return b.sendText(msg.Chat.ID, "Статус обновлён ✅\n"+formatTask(*task, b.loc))
}

func (b *Bot) handleDue(ctx context.Context, msg *tgbotapi.Message) error {
	idRaw, dateRaw, _ := strings.Cut(strings.TrimSpace(msg.CommandArguments()), " ")
	taskID, err := parseTaskID(idRaw)
	if err != nil {
		return b.sendText(msg.Chat.ID, "Укажи ID задачи и дату: /due 12 31.12.2025")
	}
	dueAt, err := parseDueDate(dateRaw, time.Now(), b.loc)
	if err != nil {
		return b.sendText(msg.Chat.ID, escape(err.Error()))
	}

	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	task, err := b.tasks.Reschedule(ctx, user, taskID, dueAt)
	if err != nil {
		return b.replyTaskError(msg.Chat.ID, err)
	}
	return b.sendText(msg.Chat.ID, "⏰ Дедлайн обновлён, напоминания включены заново.\n"+formatTask(*task, b.loc))
}

func (b *Bot) handleNote(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	if _, err := b.tasks.AddNote(ctx, user, msg.CommandArguments()); err != nil {
		return b.sendText(msg.Chat.ID, "Напиши текст заметки после команды: /note купить хлеб")
	}
	return b.sendText(msg.Chat.ID, "🧠 Заметка сохранена.")
}

func (b *Bot) handleProject(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	project, err := b.tasks.AddProject(ctx, user, msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, "Укажи название проекта: /project Ремонт")
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("📁 Проект «%s» создан.", escape(project.Name)))
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil {
		return nil
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.WithError(err).Debug("callback ack")
	}

	if !strings.HasPrefix(cb.Data, cbSettingsPrefix) {
		return nil
	}

	user, err := b.ensureUser(ctx, cb.From)
	if err != nil {
		return err
	}

	switch strings.TrimPrefix(cb.Data, cbSettingsPrefix) {
	case actionToggleDigest:
		user, err = b.settings.ToggleDigest(ctx, user)
	case actionToggleDeadlines:
		user, err = b.settings.ToggleDeadlineReminders(ctx, user)
	case actionChangeTime:
		b.setAwaitingTime(cb.From.ID)
		return b.sendText(cb.Message.Chat.ID, "Введи время напоминания в формате <code>ЧЧ:ММ</code>\nНапример: <b>09:00</b> или <b>18:30</b>.")
	default:
		return nil
	}
	if err != nil {
		return b.sendText(cb.Message.Chat.ID, fmt.Sprintf("Не удалось обновить настройки: %s", escape(err.Error())))
	}

	edit := tgbotapi.NewEditMessageTextAndMarkup(cb.Message.Chat.ID, cb.Message.MessageID, settingsText(*user), settingsKeyboard(*user))
	edit.ParseMode = tgbotapi.ModeHTML
	_, err = b.api.Send(edit)
	return err
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	switch strings.TrimSpace(msg.Text) {
	case menuLabelTasks:
		return true, b.handleListTasks(ctx, msg)
	case menuLabelDigest:
		return true, b.handleDigest(ctx, msg)
	case menuLabelSettings:
		return true, b.handleSettings(ctx, msg)
	case menuLabelHelp:
		return true, b.handleHelp(msg)
	default:
		return false, nil
	}
}

func (b *Bot) replyTaskError(chatID int64, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return b.sendText(chatID, "Задача не найдена.")
	}
	return b.sendText(chatID, fmt.Sprintf("Ошибка: %s", escape(err.Error())))
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*model.User, error) {
	return b.userRepo.UpsertFromTelegram(ctx, from.ID, from.FirstName, from.LastName, from.UserName)
}

func (b *Bot) sendText(chatID int64, text string) error {
	return b.sendWithReplyMarkup(chatID, text, mainMenuKeyboard())
}

// sendLong sends text that may not fit into one Telegram message.
func (b *Bot) sendLong(chatID int64, text string) error {
	for _, part := range service.SplitMessage(text, service.MessageLimit) {
		if err := b.sendText(chatID, part); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) setAwaitingTime(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.awaitingTime[userID] = true
}

// takeAwaitingTime reports and clears the pending "enter digest time" prompt.
func (b *Bot) takeAwaitingTime(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	pending := b.awaitingTime[userID]
	delete(b.awaitingTime, userID)
	return pending
}

func settingsText(user model.User) string {
	digestStatus := "выключен ❌"
	if user.DigestEnabled {
		digestStatus = "включён ✅"
	}
	deadlineStatus := "выключены ❌"
	if user.DeadlineRemindersEnabled {
		deadlineStatus = "включены ✅"
	}

	return "⚙️ <b>Настройки напоминаний</b>\n\n" +
		fmt.Sprintf("📨 Ежедневный дайджест: <b>%s</b>\n", digestStatus) +
		fmt.Sprintf("⏰ Время дайджеста: <code>%02d:%02d</code>\n\n", user.DigestHour, user.DigestMinute) +
		fmt.Sprintf("📅 Напоминания о дедлайнах задач: <b>%s</b>", deadlineStatus)
}

func settingsKeyboard(user model.User) tgbotapi.InlineKeyboardMarkup {
	digestLabel := "🔔 Включить дайджест"
	if user.DigestEnabled {
		digestLabel = "🔕 Выключить дайджест"
	}
	deadlineLabel := "📅 Включить напоминания по дедлайнам"
	if user.DeadlineRemindersEnabled {
		deadlineLabel = "📅 Выключить напоминания по дедлайнам"
	}

	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(digestLabel, cbSettingsPrefix+actionToggleDigest)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(deadlineLabel, cbSettingsPrefix+actionToggleDeadlines)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("⏰ Изменить время дайджеста", cbSettingsPrefix+actionChangeTime)),
	)
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelTasks),
			tgbotapi.NewKeyboardButton(menuLabelDigest),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelSettings),
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = false
	return kb
}

func formatTask(task model.Task, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s <b>#%d</b> %s\n", statusIcon(task.Status), task.ID, escape(task.Title)))
	if task.DueAt != nil {
		b.WriteString(fmt.Sprintf("   ⏰ до <b>%s</b>\n", task.DueAt.In(loc).Format(dateLayout)))
	}
	if task.Description != "" {
		b.WriteString(fmt.Sprintf("   <i>%s</i>\n", escape(task.Description)))
	}
	return b.String()
}

func statusIcon(status model.TaskStatus) string {
	switch status {
	case model.StatusInProgress:
		return "🟠"
	case model.StatusDone:
		return "🟢"
	default:
		return "🟡"
	}
}

// parseNewTask reads "Title | DD.MM.YYYY"; the date part is optional.
func parseNewTask(args string, now time.Time, loc *time.Location) (string, *time.Time, error) {
	title, dateRaw, _ := strings.Cut(args, "|")
	title = strings.TrimSpace(title)
	if title == "" {
		return "", nil, errors.New("Укажи название задачи: /newtask Купить билеты | 31.12.2025")
	}
	dueAt, err := parseDueDate(dateRaw, now, loc)
	if err != nil {
		return "", nil, err
	}
	return title, dueAt, nil
}

// parseDueDate turns DD.MM.YYYY into the end of that day. Empty or "-" means
// no deadline; past dates are rejected.
func parseDueDate(raw string, now time.Time, loc *time.Location) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "-" {
		return nil, nil
	}
	day, err := time.ParseInLocation(dateLayout, raw, loc)
	if err != nil {
		return nil, errors.New("Некорректный формат даты. Используй ДД.ММ.ГГГГ или «-».")
	}
	if service.DayOf(day, loc) < service.DayOf(now, loc) {
		return nil, errors.New("Дата не может быть в прошлом.")
	}
	due := service.DueEndOfDay(day, loc)
	return &due, nil
}

func parseTaskID(raw string) (uint, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(value), nil
}

func escape(s string) string {
	return html.EscapeString(s)
}
