// Command proptestdb inspects and manages the on-disk example database: list
// stored failures for a test key, show a single entry's bytes and metadata,
// prune every entry except those recorded with one tag, or watch a test key
// for new entries
// written by a concurrent run.
package main

import (
	"fmt"
	"os"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/spf13/cobra"

	"github.com/proptest-go/proptest/database"
)

var dbRoot string

func main() {
	root := &cobra.Command{
		Use:     "proptestdb",
		Short:   "inspect and manage the property-test example database",
		Version: "0.1.0",
	}
	root.PersistentFlags().StringVar(&dbRoot, "root", database.DefaultRoot, "database root directory")

	root.AddCommand(listCmd(), showCmd(), pruneCmd(), watchCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <test-key>",
		Short: "list stored entries for a test key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			testKey := args[0]
			d := database.Open(dbRoot)
			entries, err := d.Fetch(testKey)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				if known := knownTestKeys(d); len(known) > 0 {
					if guess := suggest(testKey, known); guess != "" {
						fmt.Fprintf(cmd.OutOrStdout(), "no entries for %q. Did you mean %q?\n", testKey, guess)
						return nil
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "no entries for %q\n", testKey)
				return nil
			}
			meta := d.ListMeta(testKey)
			for _, buf := range entries {
				key := database.ContentKey(buf)
				line := fmt.Sprintf("%s  %4d bytes", key, len(buf))
				if m, ok := meta[key]; ok && m.Tag != "" {
					line += "  tag=" + m.Tag
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <test-key> <content-key>",
		Short: "print one entry's bytes (as a reproducible blob) and metadata",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			testKey, contentKey := args[0], args[1]
			d := database.Open(dbRoot)
			entries, err := d.Fetch(testKey)
			if err != nil {
				return err
			}
			for _, buf := range entries {
				if database.ContentKey(buf) != contentKey {
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), "blob:", database.EncodeBlob(buf))
				if m, ok := d.LoadMeta(testKey, buf); ok {
					fmt.Fprintf(cmd.OutOrStdout(), "tag=%s blocks=%d examples=%d\n", m.Tag, m.BlockCount, m.ExampleCount)
				}
				return nil
			}
			return fmt.Errorf("no entry %s under test key %s", contentKey, testKey)
		},
	}
}

func pruneCmd() *cobra.Command {
	var keepTag string
	cmd := &cobra.Command{
		Use:   "prune <test-key>",
		Short: "delete every entry for a test key except the ones matching --keep-tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			testKey := args[0]
			d := database.Open(dbRoot)
			entries, err := d.Fetch(testKey)
			if err != nil {
				return err
			}
			meta := d.ListMeta(testKey)
			var deleted int
			for _, buf := range entries {
				key := database.ContentKey(buf)
				tag := meta[key].Tag
				if keepTag != "" && tag == keepTag {
					continue
				}
				if err := d.Delete(testKey, buf); err != nil {
					return err
				}
				deleted++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d/%d entries\n", deleted, len(entries))
			return nil
		},
	}
	cmd.Flags().StringVar(&keepTag, "keep-tag", "", "retain only entries recorded with this tag")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <test-key>",
		Short: "stream new content keys written under a test key until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			testKey := args[0]
			d := database.Open(dbRoot)
			events, stop, err := d.Watch(testKey)
			if err != nil {
				return err
			}
			defer stop()
			for key := range events {
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
			return nil
		},
	}
}

// knownTestKeys lists the subdirectory names under the database root, which
// are TestKeyHash values rather than the original test keys — fuzzy
// suggestion can only work against keys a caller has already typed
// correctly once, so this is intentionally a small, best-effort helper
// rather than a reverse index.
func knownTestKeys(d *database.Directory) []string {
	entries, err := os.ReadDir(d.Root)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out
}

func suggest(target string, candidates []string) string {
	ranks := fuzzy.RankFindFold(target, candidates)
	if len(ranks) == 0 {
		return ""
	}
	return ranks[0].Target
}
