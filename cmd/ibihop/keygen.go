package main

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/smallyu/go-ibihop/internal/crypto/curves"
	"github.com/smallyu/go-ibihop/internal/protocol/keygen"
)

// provisioning is the document keygen writes. It can be merged into a
// device configuration as is.
type provisioning struct {
	Curve string          `yaml:"curve"`
	Key   *keygen.KeyPair `yaml:"key"`
}

func newKeygenCmd() *cobra.Command {
	var curveName, out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a device key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := curves.ByName(curveName)
			if err != nil {
				return err
			}
			kp, err := keygen.Generate(c, rand.Reader)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return writeProvisioning(w, kp)
		},
	}
	cmd.Flags().StringVar(&curveName, "curve", curves.Secp192r1().Name, fmt.Sprintf("curve, one of %v", curves.Names()))
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to a new file instead of stdout")
	return cmd
}

func writeProvisioning(w io.Writer, kp *keygen.KeyPair) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(provisioning{Curve: kp.Curve().Name, Key: kp}); err != nil {
		return err
	}
	return enc.Close()
}
