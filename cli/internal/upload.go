package cli

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/invobilled/invobilled/internal/upload"
)

func newUploadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload assets used by invoices",
	}
	cmd.AddCommand(newUploadThumbnailCommand())
	return cmd
}

func newUploadThumbnailCommand() *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "thumbnail FILE",
		Short: "Upload an invoice thumbnail image and print its URL",
		Long: `Upload an invoice thumbnail to Cloudinary.

FILE is an image path, or a base64 data URL when it starts with "data:".`,
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{backgroundSync: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c := getCliContext(cmd)
			uploader := upload.New(c.Client,
				upload.WithCloud(c.App.Cloudinary.Cloud),
				upload.WithPreset(c.App.Cloudinary.Preset),
				upload.WithEndpoint(c.App.Cloudinary.Endpoint),
				upload.WithLogger(c.Logger))

			var (
				url string
				err error
			)
			if strings.HasPrefix(args[0], "data:") {
				url, err = uploader.UploadDataURL(cmd.Context(), title, args[0])
			} else {
				url, err = uploadFile(cmd, uploader, args[0], title)
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Title used to name the image (defaults to the file name)")
	return cmd
}

func uploadFile(cmd *cobra.Command, uploader *upload.Uploader, path, title string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}

	name := filepath.Base(path)
	if title == "" {
		title = strings.TrimSuffix(name, filepath.Ext(name))
	}

	return uploader.Upload(cmd.Context(), upload.Image{
		Title:       title,
		Filename:    name,
		ContentType: mime.TypeByExtension(filepath.Ext(name)),
		Data:        data,
	})
}
