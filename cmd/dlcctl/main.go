// SPDX-License-Identifier: LGPL-3.0-or-later

// dlcctl is the operator CLI over the dlcd HTTP adaptor.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/schollz/progressbar/v3"

	"dlcd/daemon/models"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: dlcctl [flags] <command> [args]

Commands:
  install <id>       Install a DLC (waits and shows progress)
  uninstall <id>     Uninstall a DLC
  purge <id>         Purge a DLC (same as uninstall)
  deploy <id>        Deploy a dev payload into the active slot
  unload <id>        Unload one DLC
  unload-tied        Unload all user-tied DLCs
  unload-scaled      Unload all scaled DLCs
  state <id>         Show one DLC's state
  list               List installed DLCs
  existing           List DLCs with content on disk
  to-update          List DLCs ready for the next OS update
  history [id]       Show operation history

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	addr := flag.String("addr", envOr("DLC_API_ADDR", "localhost:8270"), "Daemon API address")
	url := flag.String("url", "", "Payload URL override for install")
	reserve := flag.Bool("reserve", false, "Keep image files across uninstall")
	forceOTA := flag.Bool("force-ota", false, "Force an over-the-air fetch")
	noWait := flag.Bool("no-wait", false, "Do not wait for install completion")
	limit := flag.Int("limit", 20, "History entry limit")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	c := newClient(*addr)
	var err error

	switch args[0] {
	case "install":
		err = runInstall(c, args[1:], *url, *reserve, *forceOTA, *noWait)
	case "uninstall":
		err = runSimple(args[1:], "uninstall", c.uninstall)
	case "purge":
		err = runSimple(args[1:], "purge", c.purge)
	case "deploy":
		err = runSimple(args[1:], "deploy", c.deploy)
	case "unload":
		err = runSimple(args[1:], "unload", func(id string) error {
			return c.unload(models.UnloadSelector{ID: id})
		})
	case "unload-tied":
		err = c.unload(models.UnloadSelector{UserTied: true})
	case "unload-scaled":
		err = c.unload(models.UnloadSelector{Scaled: true})
	case "state":
		err = runState(c, args[1:])
	case "list":
		err = runList(c)
	case "existing":
		err = runExisting(c)
	case "to-update":
		err = runToUpdate(c)
	case "history":
		id := ""
		if len(args) > 1 {
			id = args[1]
		}
		err = runHistory(c, id, *limit)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		pterm.Error.Printfln("%v", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runSimple(args []string, name string, fn func(id string) error) error {
	if len(args) != 1 {
		return fmt.Errorf("%s requires exactly one DLC id", name)
	}
	if err := fn(args[0]); err != nil {
		return err
	}
	pterm.Success.Printfln("%s of %s done", name, args[0])
	return nil
}

func runInstall(c *client, args []string, url string, reserve, forceOTA, noWait bool) error {
	if len(args) != 1 {
		return fmt.Errorf("install requires exactly one DLC id")
	}
	id := args[0]

	req := models.InstallRequest{ID: id, URL: url, ForceOTA: forceOTA}
	if reserve {
		r := true
		req.Reserve = &r
	}

	state, err := c.install(req)
	if err != nil {
		return err
	}

	if state.Status == models.StatusInstalled {
		pterm.Success.Printfln("%s installed at %s", id, state.RootPath)
		return nil
	}
	if noWait {
		pterm.Info.Printfln("%s is installing", id)
		return nil
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription(fmt.Sprintf("Installing %s:", id)),
		progressbar.OptionSetWidth(40),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
	)

	for {
		time.Sleep(500 * time.Millisecond)
		state, err = c.state(id)
		if err != nil {
			return err
		}

		switch state.Status {
		case models.StatusInstalling:
			bar.Set(int(state.Progress * 100))
		case models.StatusInstalled:
			bar.Set(100)
			pterm.Success.Printfln("%s installed at %s", id, state.RootPath)
			return nil
		case models.StatusNotInstalled:
			return fmt.Errorf("install of %s failed: %s", id, state.LastErrorKind)
		}
	}
}

func runState(c *client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("state requires exactly one DLC id")
	}
	state, err := c.state(args[0])
	if err != nil {
		return err
	}

	data := [][]string{
		{"Field", "Value"},
		{"ID", state.ID},
		{"Status", string(state.Status)},
		{"Verified", fmt.Sprintf("%v", state.IsVerified)},
		{"Progress", fmt.Sprintf("%.2f", state.Progress)},
		{"Last error", string(state.LastErrorKind)},
		{"Root path", state.RootPath},
		{"Image path", state.ImagePath},
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runList(c *client) error {
	states, err := c.installed()
	if err != nil {
		return err
	}
	if len(states) == 0 {
		pterm.Info.Println("No DLCs installed")
		return nil
	}

	data := [][]string{{"ID", "Verified", "Root path"}}
	for _, s := range states {
		data = append(data, []string{s.ID, fmt.Sprintf("%v", s.IsVerified), s.RootPath})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runExisting(c *client) error {
	existing, err := c.existing()
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		pterm.Info.Println("No DLC content on disk")
		return nil
	}

	data := [][]string{{"ID", "Name", "Used bytes", "Removable"}}
	for _, e := range existing {
		data = append(data, []string{
			e.ID, e.Name, fmt.Sprintf("%d", e.UsedBytes), fmt.Sprintf("%v", e.IsRemovable),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runToUpdate(c *client) error {
	ids, err := c.toUpdate()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		pterm.Info.Println("No DLCs ready for update")
		return nil
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func runHistory(c *client, id string, limit int) error {
	records, err := c.history(id, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		pterm.Info.Println("No history entries")
		return nil
	}

	data := [][]string{{"Time", "DLC", "Operation", "Status", "Error"}}
	for _, r := range records {
		data = append(data, []string{
			r.Timestamp.Local().Format(time.RFC3339),
			r.DlcID, r.Operation, r.Status, r.ErrorKind,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
