package cmd

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jroimartin/gocui"
	"github.com/roffe/fdcan"
	"github.com/roffe/fdcan/adapter"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(monitorCmd)
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "monitor the bus for frames",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := selectMode(cmd, fdcan.Normal, fdcan.InternalLoopback, fdcan.ExternalLoopback)
		if err != nil {
			return err
		}
		cfg, err := adapterConfig(cmd, mode)
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString(flagAdapter)
		dev, err := adapter.NewAdapter(name, cfg)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		if err := dev.Open(ctx); err != nil {
			return err
		}
		defer dev.Close()

		g, err := gocui.NewGui(gocui.OutputNormal)
		if err != nil {
			return err
		}
		g.Cursor = true
		defer g.Close()

		m := &monitor{
			filter: &input{Name: "filter", Title: "Filter", X: 0, Y: 6, W: 25, MaxLength: 60},
		}
		g.SetManagerFunc(m.layout)
		if err := m.keybindings(g); err != nil {
			return err
		}
		go m.run(ctx, dev, g)

		if err := g.MainLoop(); err != nil && err != gocui.ErrQuit {
			return err
		}
		return nil
	},
}

type monitor struct {
	mu      sync.Mutex
	filters []uint32
	frames  int
	shown   int
	filter  *input
}

func (m *monitor) accept(id fdcan.Identifier) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames++
	if len(m.filters) == 0 {
		m.shown++
		return true
	}
	for _, f := range m.filters {
		if f == id.Raw() {
			m.shown++
			return true
		}
	}
	return false
}

func (m *monitor) run(ctx context.Context, dev adapter.Adapter, g *gocui.Gui) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-dev.Err():
			if err == nil {
				return
			}
			g.Update(m.printTo("events", err.Error()))
		case e := <-dev.Event():
			g.Update(m.printTo("events", e.String()))
		case f := <-dev.Recv():
			if !m.accept(f.ID) {
				continue
			}
			line := fmt.Sprintf(" %s || %s", time.Now().Format("15:04:05.00000"), f.String())
			g.Update(func(g *gocui.Gui) error {
				packets, err := g.View("packets")
				if err != nil {
					return err
				}
				fmt.Fprintln(packets, line)
				return m.updateInfo(g)
			})
		}
	}
}

func (m *monitor) printTo(view, text string) func(*gocui.Gui) error {
	return func(g *gocui.Gui) error {
		v, err := g.View(view)
		if err != nil {
			return err
		}
		fmt.Fprintln(v, text)
		return nil
	}
}

func (m *monitor) updateInfo(g *gocui.Gui) error {
	info, err := g.View("info")
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	info.Clear()
	fmt.Fprintf(info, "frames: %d\n", m.frames)
	fmt.Fprintf(info, "shown: %d\n", m.shown)
	if len(m.filters) > 0 {
		fmt.Fprintf(info, "filter: %d ids\n", len(m.filters))
	}
	return nil
}

func (m *monitor) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()

	if v, err := g.SetView("info", 0, 0, 25, 5); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Info"
	}
	if err := m.filter.Layout(g); err != nil {
		return err
	}
	if v, err := g.SetView("help", 0, 9, 25, 15); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Wrap = true
		v.Title = "Help"
		fmt.Fprintln(v, "<Q, Ctrl-C> Quit")
		fmt.Fprintln(v, "<Space> Autoscroll")
		fmt.Fprintln(v, "<Ctrl-F> Set filter")
		fmt.Fprintln(v, "<C> Clear")
	}
	if v, err := g.SetView("events", 0, 16, 25, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Autoscroll = true
		v.Wrap = true
		v.Title = "Events"
	}
	if v, err := g.SetView("packets", 26, 0, maxX-1, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.SelFgColor = gocui.ColorCyan
		v.Autoscroll = true
		v.Highlight = true
		v.Title = "Frame view"
		if _, err := g.SetCurrentView("packets"); err != nil {
			return err
		}
	}
	return nil
}

func (m *monitor) setFilter(g *gocui.Gui, v *gocui.View) error {
	buff := strings.TrimSpace(v.Buffer())
	var ids []uint32
	if buff != "" {
		for _, p := range strings.Split(buff, ",") {
			id, err := parseID(p)
			if err != nil {
				if ev, errr := g.View("events"); errr == nil {
					fmt.Fprintln(ev, err)
				}
				return nil
			}
			ids = append(ids, id)
		}
	}
	m.mu.Lock()
	m.filters = ids
	m.mu.Unlock()
	if err := m.updateInfo(g); err != nil {
		return err
	}
	_, err := g.SetCurrentView("packets")
	return err
}

func (m *monitor) keybindings(g *gocui.Gui) error {
	quit := func(g *gocui.Gui, v *gocui.View) error {
		return gocui.ErrQuit
	}
	bindings := []struct {
		view string
		key  interface{}
		fn   func(*gocui.Gui, *gocui.View) error
	}{
		{"", gocui.KeyCtrlC, quit},
		{"packets", 'q', quit},
		{"packets", gocui.KeyCtrlF, func(g *gocui.Gui, v *gocui.View) error {
			_, err := g.SetCurrentView("filter")
			return err
		}},
		{"filter", gocui.KeyEnter, m.setFilter},
		{"packets", 'c', func(g *gocui.Gui, v *gocui.View) error {
			v.Autoscroll = true
			v.Clear()
			return v.SetOrigin(0, 0)
		}},
		{"packets", gocui.KeySpace, func(g *gocui.Gui, v *gocui.View) error {
			v.Autoscroll = !v.Autoscroll
			return nil
		}},
		{"packets", gocui.KeyArrowUp, func(g *gocui.Gui, v *gocui.View) error {
			v.MoveCursor(0, -1, false)
			return nil
		}},
		{"packets", gocui.KeyArrowDown, func(g *gocui.Gui, v *gocui.View) error {
			v.MoveCursor(0, 1, false)
			return nil
		}},
		{"packets", gocui.KeyPgup, func(g *gocui.Gui, v *gocui.View) error {
			v.MoveCursor(0, -10, false)
			return nil
		}},
		{"packets", gocui.KeyPgdn, func(g *gocui.Gui, v *gocui.View) error {
			v.MoveCursor(0, 10, false)
			return nil
		}},
	}
	for _, b := range bindings {
		if err := g.SetKeybinding(b.view, b.key, gocui.ModNone, b.fn); err != nil {
			return err
		}
	}
	return nil
}

// input is a single line editable view.
type input struct {
	Name      string
	Title     string
	X, Y      int
	W         int
	MaxLength int
}

func (i *input) Layout(g *gocui.Gui) error {
	v, err := g.SetView(i.Name, i.X, i.Y, i.X+i.W, i.Y+2)
	if err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = i.Title
		v.Editor = i
		v.Editable = true
	}
	return nil
}

func (i *input) Edit(v *gocui.View, key gocui.Key, ch rune, mod gocui.Modifier) {
	cx, _ := v.Cursor()
	ox, _ := v.Origin()
	limit := ox+cx+1 > i.MaxLength
	switch {
	case ch != 0 && mod == 0 && !limit:
		v.EditWrite(ch)
	case key == gocui.KeySpace && !limit:
		v.EditWrite(' ')
	case key == gocui.KeyBackspace || key == gocui.KeyBackspace2:
		v.EditDelete(true)
	}
}
