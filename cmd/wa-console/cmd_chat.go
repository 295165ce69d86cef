package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"wa-console/internal/api"
	"wa-console/internal/store"
	"wa-console/internal/utils/jid"
	"wa-console/internal/utils/media"
)

var (
	chatSession   string
	chatQuoted    string
	chatCaption   string
	chatMediaType string
)

var chatCmd = &cobra.Command{
	Use:     "chat",
	Aliases: []string{"chats"},
	Short:   "Read and answer chats",
}

var chatListCmd = &cobra.Command{
	Use:   "list [session-id]",
	Short: "List the chats of a session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := sessionArg(args)
		if err != nil {
			return err
		}
		chats, err := application.Chat.SelectSession(ctx(), id)
		if err != nil {
			return err
		}
		printChats(cmd.OutOrStdout(), chats)
		return nil
	},
}

var chatOpenCmd = &cobra.Command{
	Use:   "open <chat-id>",
	Short: "Follow a chat live and answer from the terminal",
	Long: `Prints the chat transcript and follows it live. Each line typed is sent
as a message. Commands: /more loads older messages, /star <id>,
/delete <id>, /quit leaves.`,
	Args: cobra.ExactArgs(1),
	RunE: runChatOpen,
}

var chatSendCmd = &cobra.Command{
	Use:   "send <chat-id> <text>...",
	Short: "Send a text message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openChat(args[0]); err != nil {
			return err
		}
		m, err := application.Chat.SendText(ctx(), strings.Join(args[1:], " "), chatQuoted)
		if err != nil {
			return err
		}
		printMessage(cmd.OutOrStdout(), m)
		return nil
	},
}

var chatSendMediaCmd = &cobra.Command{
	Use:   "send-media <chat-id> <file>",
	Short: "Send a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mediaType, ok := media.Parse(chatMediaType)
		if !ok {
			return fmt.Errorf("unknown media type %q", chatMediaType)
		}
		if err := openChat(args[0]); err != nil {
			return err
		}
		out := cmd.ErrOrStderr()
		m, err := application.Chat.SendMedia(ctx(), api.SendMediaRequest{
			Path:      args[1],
			MediaType: mediaType,
			Caption:   chatCaption,
		}, func(p int) {
			fmt.Fprintf(out, "\rSending %s... %d%%", args[1], p)
		})
		fmt.Fprintln(out)
		if err != nil {
			return err
		}
		printMessage(cmd.OutOrStdout(), m)
		return nil
	},
}

var chatStarCmd = &cobra.Command{
	Use:   "star <message-id>",
	Short: "Star or unstar a message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openSession(); err != nil {
			return err
		}
		starred, err := application.Chat.ToggleStar(ctx(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Message %s starred: %t\n", args[0], starred)
		return nil
	},
}

var chatDeleteCmd = &cobra.Command{
	Use:   "delete <message-id>",
	Short: "Delete a message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openSession(); err != nil {
			return err
		}
		return application.Chat.DeleteMessage(ctx(), args[0])
	},
}

var chatSearchCmd = &cobra.Command{
	Use:   "search <query>...",
	Short: "Search the messages of a session",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openSession(); err != nil {
			return err
		}
		found, err := application.Chat.Search(ctx(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		if len(found) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No messages found.")
		}
		for _, m := range found {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  ", m.ID, m.ChatID)
			printMessage(cmd.OutOrStdout(), m)
		}
		return nil
	},
}

func init() {
	chatCmd.PersistentFlags().StringVarP(&chatSession, "session", "s", "", "Session (default: selected session)")
	chatSendCmd.Flags().StringVarP(&chatQuoted, "reply-to", "r", "", "Quote this message id")
	chatSendMediaCmd.Flags().StringVar(&chatCaption, "caption", "", "Caption")
	chatSendMediaCmd.Flags().StringVar(&chatMediaType, "media-type", "", "image, video, audio or document (default: from file extension)")

	chatCmd.AddCommand(chatListCmd, chatOpenCmd, chatSendCmd, chatSendMediaCmd, chatStarCmd, chatDeleteCmd, chatSearchCmd)
}

func openSession() error {
	id := chatSession
	if id == "" {
		var err error
		if id, err = sessionArg(nil); err != nil {
			return err
		}
	}
	_, err := application.Chat.SelectSession(ctx(), id)
	return err
}

// openChat selects the session and the chat. Plain phone numbers are
// accepted as chat ids.
func openChat(chatID string) error {
	if err := openSession(); err != nil {
		return err
	}
	if !strings.Contains(chatID, "@") {
		chatID = jid.FromPhone(chatID).String()
	}
	_, err := application.Chat.SelectChat(ctx(), chatID)
	return err
}

func runChatOpen(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	application.StartPush()
	if err := openChat(args[0]); err != nil {
		return err
	}

	var mu sync.Mutex
	seen := make(map[string]bool)
	show := func() {
		mu.Lock()
		defer mu.Unlock()
		messages, err := application.Chat.Messages(ctx())
		if err != nil {
			application.Log.Warnf("Failed to read transcript: %v", err)
			return
		}
		for _, m := range messages {
			if !seen[m.ID] {
				seen[m.ID] = true
				printMessage(out, m)
			}
		}
	}
	show()
	application.Chat.SetOnChange(show)
	defer application.Chat.SetOnChange(nil)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx().Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if done := chatLine(out, line, show); done {
				return nil
			}
		}
	}
}

func chatLine(out io.Writer, line string, show func()) bool {
	line = strings.TrimSpace(line)
	verb, arg, _ := strings.Cut(line, " ")
	var err error
	switch verb {
	case "":
		return false
	case "/quit", "/q":
		return true
	case "/more":
		var loaded bool
		if loaded, err = application.Chat.LoadMore(ctx()); err == nil && !loaded {
			fmt.Fprintln(out, "No older messages.")
		}
	case "/star":
		_, err = application.Chat.ToggleStar(ctx(), arg)
	case "/delete":
		err = application.Chat.DeleteMessage(ctx(), arg)
	default:
		_, err = application.Chat.SendText(ctx(), line, "")
	}
	if err != nil {
		fmt.Fprintf(out, "! %v\n", err)
		return false
	}
	show()
	return false
}

func printChats(w io.Writer, chats []*store.Chat) {
	if len(chats) == 0 {
		fmt.Fprintln(w, "No chats yet.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHAT\tNAME\tUNREAD\tLAST MESSAGE")
	for _, c := range chats {
		name := c.Name
		if name == "" {
			name = jid.PhoneFromChatID(c.ID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", c.ID, name, c.UnreadCount, truncate(c.LastMessage.Text, 40))
	}
	tw.Flush()
}

func printMessage(w io.Writer, m *store.Message) {
	ts := "--:--"
	if !m.Timestamp.IsZero() {
		ts = m.Timestamp.Local().Format("15:04")
	}
	arrow := "<"
	if m.Direction == store.DirectionOutgoing {
		arrow = ">"
	}
	flags := ""
	if m.Starred() {
		flags = " *"
	}
	if m.Direction == store.DirectionOutgoing && m.Status != "" {
		flags += " (" + string(m.Status) + ")"
	}
	fmt.Fprintf(w, "[%s] %s %s%s\n", ts, arrow, m.Summary(), flags)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
