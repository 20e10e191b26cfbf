package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	coachlink "github.com/coachlink-app/coachlink-go"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var (
	watchTime   = color.New(color.Faint)
	watchEvent  = color.New(color.FgCyan, color.Bold)
	watchStatus = color.New(color.FgGreen)
	watchWarn   = color.New(color.FgYellow)
	watchErr    = color.New(color.FgRed, color.Bold)
)

func watchLine(label *color.Color, event, format string, args ...any) {
	watchTime.Printf("%s ", time.Now().Format("15:04:05"))
	label.Printf("%-14s", event)
	fmt.Printf(" %s\n", fmt.Sprintf(format, args...))
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Tail live realtime events",
	Long:  "Connect to the realtime endpoint and print messages, presence changes, feed activity and notifications as they arrive. Ctrl-C to stop.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		identity := getIdentity()

		sess, err := coachlink.NewSession(client, identity,
			coachlink.WithSessionToast(func(n coachlink.Notification) {
				watchLine(watchWarn, "notification", "%s: %s", n.Title, n.Message)
			}),
		)
		if err != nil {
			return err
		}
		defer sess.Close()

		c := sess.Conn
		c.OnConnected(func(reconnect bool) {
			if reconnect {
				watchLine(watchStatus, "connected", "reconnected as %s", identity.UserID)
			} else {
				watchLine(watchStatus, "connected", "registered as %s", identity.UserID)
			}
		})
		c.OnDisconnected(func(reason string) {
			watchLine(watchErr, "disconnected", "%s", reason)
		})
		c.OnMessage(func(m coachlink.Message) {
			watchLine(watchEvent, "message", "%s -> %s: %s", m.SenderID, m.ReceiverID, m.Text)
		})
		c.OnMessagesRead(func(senderID, receiverID string, _ *time.Time) {
			watchLine(watchEvent, "read", "%s read messages from %s", receiverID, senderID)
		})
		c.OnTyping(func(chatID, userID string) {
			watchLine(watchEvent, "typing", "%s in %s", userID, chatID)
		})
		c.OnUserStatus(func(s coachlink.UserStatus) {
			watchLine(watchEvent, "presence", "%s is %s", s.UserID, s.Status)
		})
		c.OnNewPost(func(p coachlink.CommunityPost) {
			author := p.AuthorID
			if p.Author != nil && p.Author.Name != "" {
				author = p.Author.Name
			}
			watchLine(watchEvent, "post", "[%s] %s: %s", p.Category, author, p.TextContent)
		})
		c.OnPostLiked(func(postID string, likes []string) {
			watchLine(watchEvent, "like", "post %s has %d likes", postID, len(likes))
		})
		c.OnCommunityMessage(func(postID string, m coachlink.Message) {
			watchLine(watchEvent, "comment", "on %s: %s", postID, m.Text)
		})
		c.OnVideoCallStarted(func(slotID, roomName string) {
			watchLine(watchStatus, "call", "slot %s started in room %s", slotID, roomName)
		})
		c.OnVideoCallEnded(func(slotID string, _ coachlink.VideoCallStatus) {
			watchLine(watchStatus, "call", "slot %s ended", slotID)
		})
		c.OnProtocolError(func(msg string) {
			watchLine(watchErr, "protocol", "%s", msg)
		})

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = sess.Start(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}
		watchLine(watchStatus, "ready", "%d unread notifications", sess.Notifications.UnreadCount())

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		fmt.Println()
		watchLine(watchStatus, "bye", "closing session")
		return sess.Close()
	},
}
