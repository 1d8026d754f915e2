package commands

import (
	"errors"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/go-circulation-backend/cmd/libctl/output"
	"github.com/tbourn/go-circulation-backend/internal/domain"
	"github.com/tbourn/go-circulation-backend/internal/repo"
)

type demoTitle struct {
	title  domain.Title
	copies []string
}

var demoTitles = []demoTitle{
	{
		title:  domain.Title{ISBN: "9780262033848", Name: "Introduction to Algorithms", Author: "Cormen", CallNumber: "QA76.6 .C662", Classification: "QA"},
		copies: []string{"QA-0001", "QA-0002", "QA-0003"},
	},
	{
		title:  domain.Title{ISBN: "9780134190440", Name: "The Go Programming Language", Author: "Donovan", CallNumber: "QA76.73.G63 D66", Classification: "QA"},
		copies: []string{"QA-0101", "QA-0102"},
	},
	{
		title:  domain.Title{ISBN: "9780201633610", Name: "Design Patterns", Author: "Gamma", CallNumber: "QA76.64 .D47", Classification: "QA"},
		copies: []string{"QA-0201"},
	},
}

var demoReaders = []domain.Reader{
	{ID: "u1001", Name: "Undergraduate Demo", Role: domain.ReaderUndergraduate, Credit: 100},
	{ID: "g2001", Name: "Graduate Demo", Role: domain.ReaderGraduate, Credit: 85},
	{ID: "f3001", Name: "Faculty Demo", Role: domain.ReaderFaculty, Credit: 100},
	{ID: "x4001", Name: "Low Credit Demo", Role: domain.ReaderGuest, Credit: 55},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a small demo catalog and reader set",
	Long: `Insert three titles with six copies and four readers at different
credit levels. Does nothing if the demo data is already present.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if _, err := repo.GetTitle(ctx, db, demoTitles[0].title.ISBN); err == nil {
			output.Warning(out, "demo data already present, nothing to do")
			return nil
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}

		expires := time.Now().UTC().AddDate(1, 0, 0)
		var copies int
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, d := range demoTitles {
				t := d.title
				if err := repo.CreateTitle(ctx, tx, &t); err != nil {
					return err
				}
				for _, bc := range d.copies {
					if err := repo.CreateCopy(ctx, tx, &domain.Copy{Barcode: bc, ISBN: t.ISBN, Location: "stacks"}); err != nil {
						return err
					}
					copies++
				}
			}
			for _, r := range demoReaders {
				r.ExpiresOn = expires
				if err := repo.CreateReader(ctx, tx, &r); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		output.Success(out, "seeded %d titles, %d copies, %d readers", len(demoTitles), copies, len(demoReaders))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
