// Package tgui provides small helpers for Telegram messages:
//   - HTML building with escaping for ParseMode="HTML"
//   - callback data in the "scope:action:payload" form
//   - list pagination with prev/next buttons
package tgui
