// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/pinlock/apkverify"
	"github.com/pinlock/apkverify/log"
	"github.com/spf13/cobra"
)

var (
	verbose      bool
	expectedHash string
	packageName  string
)

func parseExpectedHash() ([]byte, error) {
	if expectedHash == "" {
		return nil, nil
	}
	return hex.DecodeString(expectedHash)
}

func newVerifier() *apkverify.Verifier {
	var logger log.Logger
	if verbose {
		logger = log.NewFilter(log.NewStdLogger(os.Stderr), log.FilterLevel(log.LevelDebug))
	}
	return apkverify.New(&apkverify.Options{Logger: logger})
}

func runVerify(cmd *cobra.Command, args []string) error {
	apkPath := args[0]

	expected, err := parseExpectedHash()
	if err != nil {
		return fmt.Errorf("invalid --hash value: %w", err)
	}
	if expected == nil {
		return fmt.Errorf("--hash is required")
	}

	v := newVerifier()

	var ok bool
	if packageName != "" {
		ok = v.VerifyPackage(packageName, expected)
	} else {
		ok = v.Verify(apkPath, expected)
	}

	if ok {
		fmt.Println("MATCH")
		return nil
	}
	fmt.Println("NO MATCH")
	os.Exit(1)
	return nil // unreachable, satisfies the RunE signature
}

func runCertInfo(cmd *cobra.Command, args []string) error {
	apkPath := args[0]

	v := newVerifier()
	cert, err := v.ExtractCertificate(apkPath)
	if err != nil {
		return fmt.Errorf("extract certificate from %q: %w", apkPath, err)
	}

	info, err := apkverify.ParseCertInfo(cert)
	if err != nil {
		return err
	}

	certHex := hex.EncodeToString(cert)
	fmt.Printf("Subject:              %s\n", info.Subject)
	fmt.Printf("Issuer:               %s\n", info.Issuer)
	fmt.Printf("Serial number:        %s\n", info.SerialNumber)
	fmt.Printf("Not before:           %s\n", info.NotBefore)
	fmt.Printf("Not after:            %s\n", info.NotAfter)
	fmt.Printf("Signature algorithm:  %s\n", info.SignatureAlgorithm)
	fmt.Printf("Public key algorithm: %s\n", info.PublicKeyAlgorithm)
	fmt.Printf("Certificate DER (%d bytes): %s\n", len(cert), certHex)
	return nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "apkverify",
		Short: "Verifies an APK's embedded signing certificate against an expected hash",
		Long:  "A standalone diagnostic front-end over the apkverify library",
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("apkverify version 0.0.1")
		},
	}

	verifyCmd := &cobra.Command{
		Use:   "verify [apk path]",
		Short: "Verify an APK's signing certificate against an expected SHA-256 hash",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runVerify,
	}
	verifyCmd.Flags().StringVar(&expectedHash, "hash", "", "expected SHA-256 hash, hex-encoded")
	verifyCmd.Flags().StringVar(&packageName, "package", "", "resolve the APK path via /proc/self/maps instead of using the positional argument")

	certInfoCmd := &cobra.Command{
		Use:   "certinfo [apk path]",
		Short: "Print diagnostic information about an APK's embedded certificate",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCertInfo,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose diagnostic logging")
	rootCmd.AddCommand(versionCmd, verifyCmd, certInfoCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
