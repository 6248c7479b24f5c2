package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/notejournal/journal/internal/journal/model"
)

var tagsCmd = &cobra.Command{
	Use:     "tags",
	GroupID: "journal",
	Short:   "Manage tags",
	Long: `Manage the tag list. Tags order the sections of exported markdown.

The whole list is sent to other devices after every change and replaces
theirs: the last list sent wins.`,
}

var tagsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tags in order",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		tags, err := db.Tags(ctx)
		if err != nil {
			return err
		}
		return output(os.Stdout, tags, func() string {
			var b strings.Builder
			for _, t := range tags {
				fmt.Fprintf(&b, "%4d  %s\n", t.Order, t.Value)
			}
			return b.String()
		})
	},
}

var tagsAddCmd = &cobra.Command{
	Use:   "add VALUE",
	Short: "Add or reorder a tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		order, _ := cmd.Flags().GetInt("order")

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if !cmd.Flags().Changed("order") {
			tags, err := s.db.Tags(ctx)
			if err != nil {
				return err
			}
			for _, t := range tags {
				order = max(order, t.Order+1)
			}
		}

		if err := s.db.UpsertTag(ctx, model.NewTag(args[0], order)); err != nil {
			return err
		}
		publishTags(cmd, s)
		return nil
	},
}

var tagsRemoveCmd = &cobra.Command{
	Use:   "remove VALUE",
	Short: "Remove a tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.db.DeleteTag(ctx, args[0]); err != nil {
			return err
		}
		publishTags(cmd, s)
		return nil
	},
}

var tagsPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Send the tag list to other devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()
		if !s.online() {
			return fmt.Errorf("relay unavailable")
		}
		publishTags(cmd, s)
		return nil
	},
}

func publishTags(cmd *cobra.Command, s *session) {
	if !s.online() {
		fmt.Println("Saved locally (offline: run 'nj tags publish' later)")
		return
	}
	if err := s.engine.PublishTags(cmd.Context()); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return
	}
	fmt.Println("Tags sent to other devices")
}

var templatesCmd = &cobra.Command{
	Use:     "templates",
	GroupID: "journal",
	Short:   "Manage entry templates",
	Long: `Manage entry templates: canned texts with a tag.

Like tags, the whole list is sent to other devices and the last list sent
wins.`,
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		templates, err := db.Templates(ctx)
		if err != nil {
			return err
		}
		return output(os.Stdout, templates, func() string {
			var b strings.Builder
			for _, t := range templates {
				fmt.Fprintf(&b, "[%s] %s\n", t.Tag, t.Text)
			}
			return b.String()
		})
	},
}

var templatesAddCmd = &cobra.Command{
	Use:   "add TEXT...",
	Short: "Add a template",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tag, _ := cmd.Flags().GetString("tag")

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.db.InsertTemplate(ctx, model.NewTemplate(strings.Join(args, " "), tag)); err != nil {
			return err
		}
		if !s.online() {
			fmt.Println("Saved locally (offline: run 'nj templates publish' later)")
			return nil
		}
		return s.engine.PublishTemplates(ctx)
	},
}

var templatesPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Send the template list to other devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()
		if !s.online() {
			return fmt.Errorf("relay unavailable")
		}
		return s.engine.PublishTemplates(cmd.Context())
	},
}

func init() {
	tagsAddCmd.Flags().Int("order", 0, "position in exports (default: after the last tag)")
	templatesAddCmd.Flags().String("tag", "", "tag applied to entries made from the template")

	tagsCmd.AddCommand(tagsListCmd, tagsAddCmd, tagsRemoveCmd, tagsPublishCmd)
	templatesCmd.AddCommand(templatesListCmd, templatesAddCmd, templatesPublishCmd)
	rootCmd.AddCommand(tagsCmd)
	rootCmd.AddCommand(templatesCmd)
}
