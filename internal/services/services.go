// Package services contains the vendor clients that answer chat messages and the persistent store
// of chats.
package services

const errLoggerKey = "err"
