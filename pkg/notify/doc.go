// Package notify delivers operator alerts over DingTalk, WeCom and SMTP,
// with a per-workflow rolling-window rate limit so a flapping workflow
// cannot flood a channel.
package notify
