package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"wa-console/internal/service/campaign"
	"wa-console/internal/store"
	"wa-console/internal/utils/media"
)

var (
	campaignSession   string
	campaignName      string
	campaignText      string
	campaignMediaType string
	campaignFile      string
	campaignCaption   string
	campaignNumbers   []string
	campaignNumFile   string
	campaignDelay     int

	listPage  int
	listLimit int
	listLocal bool
)

var campaignCmd = &cobra.Command{
	Use:     "campaign",
	Aliases: []string{"campaigns"},
	Short:   "Send single and bulk campaigns",
}

var campaignSendCmd = &cobra.Command{
	Use:   "send <receiver>",
	Short: "Send one message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := campaignDraft(store.CampaignSingle)
		if err != nil {
			return err
		}
		d.Receiver = args[0]
		return submitCampaign(cmd, d)
	},
}

var campaignBulkCmd = &cobra.Command{
	Use:   "bulk",
	Short: "Send one message to many recipients",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := campaignDraft(store.CampaignBulk)
		if err != nil {
			return err
		}
		d.Recipients, err = recipientsText(cmd.InOrStdin())
		if err != nil {
			return err
		}
		d.DelayMs = campaignDelay
		return submitCampaign(cmd, d)
	},
}

var campaignListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns",
	RunE: func(cmd *cobra.Command, args []string) error {
		var campaigns []*store.Campaign
		if listLocal {
			var err error
			campaigns, err = application.Campaigns.Recent(ctx(), listLimit, (max(listPage, 1)-1)*listLimit)
			if err != nil {
				return err
			}
		} else {
			page, err := application.Campaigns.List(ctx(), listPage, listLimit)
			if err != nil {
				return err
			}
			campaigns = page.Campaigns
			defer fmt.Fprintf(cmd.OutOrStdout(), "Page %d of %d (%d total)\n", max(page.Page, 1), max(page.Pages, 1), page.Total)
		}
		printCampaigns(cmd.OutOrStdout(), campaigns)
		return nil
	},
}

var campaignShowCmd = &cobra.Command{
	Use:   "show <campaign-id>",
	Short: "Show campaign progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := application.Campaigns.Get(ctx(), args[0])
		if err != nil {
			return err
		}
		printCampaign(cmd.OutOrStdout(), c)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{campaignSendCmd, campaignBulkCmd} {
		c.Flags().StringVarP(&campaignSession, "session", "s", "", "Sending session (default: selected session)")
		c.Flags().StringVarP(&campaignName, "name", "n", "", "Campaign name")
		c.Flags().StringVarP(&campaignText, "text", "t", "", "Message text")
		c.Flags().StringVar(&campaignMediaType, "media-type", "", "image, video, audio or document (default: from file extension)")
		c.Flags().StringVarP(&campaignFile, "file", "f", "", "Media file to upload and attach")
		c.Flags().StringVar(&campaignCaption, "caption", "", "Media caption")
	}
	campaignBulkCmd.Flags().StringSliceVar(&campaignNumbers, "numbers", nil, "Comma separated recipients")
	campaignBulkCmd.Flags().StringVar(&campaignNumFile, "numbers-file", "", "File with one recipient per line, - for stdin")
	campaignBulkCmd.Flags().IntVarP(&campaignDelay, "delay", "d", 0, "Delay between messages in ms (1000-10000)")

	campaignListCmd.Flags().IntVar(&listPage, "page", 1, "Page")
	campaignListCmd.Flags().IntVar(&listLimit, "limit", 20, "Page size")
	campaignListCmd.Flags().BoolVar(&listLocal, "local", false, "List locally known campaigns without asking the backend")

	campaignCmd.AddCommand(campaignSendCmd, campaignBulkCmd, campaignListCmd, campaignShowCmd)
}

// campaignDraft builds the common part of a draft from the flags.
func campaignDraft(kind store.CampaignType) (*campaign.Draft, error) {
	sid := campaignSession
	if sid == "" {
		var err error
		if sid, err = sessionArg(nil); err != nil {
			return nil, err
		}
	}
	mediaType, ok := media.Parse(campaignMediaType)
	if !ok {
		return nil, fmt.Errorf("unknown media type %q", campaignMediaType)
	}

	return &campaign.Draft{
		Name:      campaignName,
		SessionID: sid,
		Type:      kind,
		Text:      campaignText,
		MediaType: mediaType,
		Caption:   campaignCaption,
	}, nil
}

// attachMedia runs the --file upload to completion.
func attachMedia(cmd *cobra.Command, d *campaign.Draft) error {
	if campaignFile == "" {
		return nil
	}
	out := cmd.ErrOrStderr()
	d.Upload = application.Campaigns.Upload(ctx(), d.MediaType, campaignFile, func(p int) {
		fmt.Fprintf(out, "\rUploading %s... %d%%", campaignFile, p)
	})
	d.MediaType = d.Upload.MediaType
	_, err := d.Upload.Wait(ctx())
	fmt.Fprintln(out)
	return err
}

func recipientsText(stdin io.Reader) (string, error) {
	lines := append([]string(nil), campaignNumbers...)
	switch campaignNumFile {
	case "":
	case "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read recipients: %w", err)
		}
		lines = append(lines, string(data))
	default:
		data, err := os.ReadFile(campaignNumFile)
		if err != nil {
			return "", fmt.Errorf("failed to read recipients: %w", err)
		}
		lines = append(lines, string(data))
	}
	return strings.Join(lines, "\n"), nil
}

// submitCampaign checks the draft before uploading anything, then uploads
// and sends.
func submitCampaign(cmd *cobra.Command, d *campaign.Draft) error {
	if err := application.Campaigns.Precheck(ctx(), d); err != nil {
		return campaignError(err)
	}
	if err := attachMedia(cmd, d); err != nil {
		return err
	}
	c, err := application.Campaigns.Submit(ctx(), d)
	if err != nil {
		return campaignError(err)
	}
	printCampaign(cmd.OutOrStdout(), c)
	return nil
}

func campaignError(err error) error {
	var invalid *campaign.ValidationError
	if errors.As(err, &invalid) {
		return fmt.Errorf("invalid %s: %w", invalid.Field, invalid.Err)
	}
	return err
}

func counter(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}

func printCampaigns(w io.Writer, campaigns []*store.Campaign) {
	if len(campaigns) == 0 {
		fmt.Fprintln(w, "No campaigns found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSTATUS\tSENT\tFAILED\tTOTAL")
	for _, c := range campaigns {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Type, c.Status,
			counter(c.SentCount), counter(c.FailedCount), counter(c.Total))
	}
	tw.Flush()
}

func printCampaign(w io.Writer, c *store.Campaign) {
	fmt.Fprintf(w, "Campaign: %s\n", c.ID)
	fmt.Fprintf(w, "Name:     %s\n", c.Name)
	fmt.Fprintf(w, "Session:  %s\n", c.SessionID)
	fmt.Fprintf(w, "Type:     %s\n", c.Type)
	fmt.Fprintf(w, "Status:   %s\n", c.Status)
	fmt.Fprintf(w, "Progress: %s sent, %s failed of %s\n", counter(c.SentCount), counter(c.FailedCount), counter(c.Total))
	if c.MediaType != "" {
		fmt.Fprintf(w, "Media:    %s %s\n", c.MediaType, c.MediaURL)
	}
}
