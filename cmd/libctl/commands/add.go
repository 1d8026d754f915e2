package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-circulation-backend/cmd/libctl/output"
	"github.com/tbourn/go-circulation-backend/internal/domain"
	"github.com/tbourn/go-circulation-backend/internal/repo"
)

var (
	// add title
	titleName     string
	titleAuthor   string
	titleCallNo   string
	titleClassify string

	// add copy
	copyISBN     string
	copyLocation string

	// add reader
	readerName    string
	readerRole    string
	readerCredit  int
	readerExpires string
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Register catalog records and readers",
	Long: `Insert titles, physical copies and readers.

These records normally arrive from the cataloging pipeline and the identity
provider; add is for bootstrapping and fixing up environments by hand.`,
}

var addTitleCmd = &cobra.Command{
	Use:   "title <isbn>",
	Short: "Add a title to the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t := &domain.Title{
			ISBN:           strings.TrimSpace(args[0]),
			Name:           titleName,
			Author:         titleAuthor,
			CallNumber:     titleCallNo,
			Classification: titleClassify,
		}
		if t.Name == "" {
			return fmt.Errorf("--name is required")
		}
		if err := repo.CreateTitle(cmd.Context(), db, t); err != nil {
			return fmt.Errorf("add title %s: %w", t.ISBN, err)
		}
		output.Success(cmd.OutOrStdout(), "title %s added", t.ISBN)
		return nil
	},
}

var addCopyCmd = &cobra.Command{
	Use:   "copy <barcode>",
	Short: "Put a physical copy of a title into circulation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if copyISBN == "" {
			return fmt.Errorf("--isbn is required")
		}
		if _, err := repo.GetTitle(cmd.Context(), db, copyISBN); err != nil {
			return fmt.Errorf("title %s: %w", copyISBN, err)
		}
		c := &domain.Copy{
			Barcode:  strings.TrimSpace(args[0]),
			ISBN:     copyISBN,
			Location: copyLocation,
		}
		if err := repo.CreateCopy(cmd.Context(), db, c); err != nil {
			return fmt.Errorf("add copy %s: %w", c.Barcode, err)
		}
		output.Success(cmd.OutOrStdout(), "copy %s of %s added %s", c.Barcode, c.ISBN, output.CopyStatusIcon(string(c.Status)))
		return nil
	},
}

var addReaderCmd = &cobra.Command{
	Use:   "reader <id>",
	Short: "Register a reader",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role := domain.ReaderRole(strings.ToLower(readerRole))
		switch role {
		case domain.ReaderUndergraduate, domain.ReaderGraduate, domain.ReaderFaculty, domain.ReaderGuest:
		default:
			return fmt.Errorf("unknown reader role %q", readerRole)
		}
		if readerCredit < domain.MinCredit || readerCredit > domain.MaxCredit {
			return fmt.Errorf("--credit must be within [%d, %d]", domain.MinCredit, domain.MaxCredit)
		}
		expires := time.Now().UTC().AddDate(1, 0, 0)
		if readerExpires != "" {
			t, err := time.Parse(time.DateOnly, readerExpires)
			if err != nil {
				return fmt.Errorf("--expires: %w", err)
			}
			expires = t
		}
		r := &domain.Reader{
			ID:        strings.TrimSpace(args[0]),
			Name:      readerName,
			Role:      role,
			Credit:    readerCredit,
			ExpiresOn: expires,
		}
		if err := repo.CreateReader(cmd.Context(), db, r); err != nil {
			return fmt.Errorf("add reader %s: %w", r.ID, err)
		}
		output.Success(cmd.OutOrStdout(), "reader %s added with credit %d", r.ID, r.Credit)
		return nil
	},
}

func init() {
	addTitleCmd.Flags().StringVar(&titleName, "name", "", "Title name")
	addTitleCmd.Flags().StringVar(&titleAuthor, "author", "", "Author")
	addTitleCmd.Flags().StringVar(&titleCallNo, "call-number", "", "Shelf call number")
	addTitleCmd.Flags().StringVar(&titleClassify, "class", "", "Classification code")

	addCopyCmd.Flags().StringVar(&copyISBN, "isbn", "", "Owning title")
	addCopyCmd.Flags().StringVar(&copyLocation, "location", "", "Shelf or room code")

	addReaderCmd.Flags().StringVar(&readerName, "name", "", "Reader name")
	addReaderCmd.Flags().StringVar(&readerRole, "role", string(domain.ReaderUndergraduate), "undergraduate|graduate|faculty|guest")
	addReaderCmd.Flags().IntVar(&readerCredit, "credit", domain.MaxCredit, "Starting credit")
	addReaderCmd.Flags().StringVar(&readerExpires, "expires", "", "Card expiry date (YYYY-MM-DD, default one year)")

	addCmd.AddCommand(addTitleCmd, addCopyCmd, addReaderCmd)
	rootCmd.AddCommand(addCmd)
}
