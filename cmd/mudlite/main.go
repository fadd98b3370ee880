// Package main provides a minimal MUD server: accounts with bcrypt
// passwords, a YAML room graph, room-scoped chat, online building and
// Lua-scripted commands.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gsb"
	"github.com/cory-johannsen/gsb/config"
	"github.com/cory-johannsen/gsb/intercept"
	"github.com/cory-johannsen/gsb/lifecycle"
	"github.com/cory-johannsen/gsb/observability"
	"github.com/cory-johannsen/gsb/script"
	"github.com/cory-johannsen/gsb/telnet"
)

const nameKey = "name"

func main() {
	start := time.Now()

	configPath := flag.String("config", "", "path to configuration file; empty = built-in defaults")
	worldPath := flag.String("world", "", "path to world YAML file; empty = built-in demo world")
	accountsPath := flag.String("accounts", "accounts.yaml", "path to the account store")
	scriptsDir := flag.String("scripts", "", "directory of Lua command scripts; empty = scripting disabled")
	flag.Parse()

	ctx := context.Background()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
		cfg = loaded
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	world := DefaultWorld()
	if *worldPath != "" {
		worldStart := time.Now()
		world, err = LoadWorld(*worldPath)
		if err != nil {
			logger.Fatal("loading world", zap.Error(err))
		}
		logger.Info("world loaded",
			zap.Int("rooms", len(world.IDs())),
			zap.Duration("elapsed", time.Since(worldStart)),
		)
	}

	accounts, err := LoadAccounts(*accountsPath)
	if err != nil {
		logger.Fatal("loading accounts", zap.Error(err))
	}

	srv := gsb.NewServer(cfg.Listen, logger)
	game := &game{world: world, accounts: accounts, logger: logger}
	game.registerCommands(srv)
	game.registerHooks(srv)

	if *scriptsDir != "" {
		if err := loadScripts(srv, logger, *scriptsDir); err != nil {
			logger.Fatal("loading command scripts", zap.Error(err))
		}
	}

	logger.Info("mudlite initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("addr", cfg.Listen.Addr()),
	)

	lc := lifecycle.New(logger)
	lc.Add("tcp", &lifecycle.FuncService{
		StartFn: func() error { return srv.ListenAndServe() },
		StopFn:  func() { srv.Stop() },
	})

	if err := lc.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// loadScripts registers every *.lua file in dir as a command named after
// the file.
func loadScripts(srv *gsb.Server, logger *zap.Logger, dir string) error {
	engine := script.NewEngine(logger)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading scripts directory: %w", err)
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		source, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("reading script %s: %w", entry.Name(), err)
		}
		handler, err := engine.Handler(string(source))
		if err != nil {
			return fmt.Errorf("script %s: %w", entry.Name(), err)
		}
		name := strings.TrimSuffix(entry.Name(), ".lua")
		if _, err := srv.Router().Register(name, handler,
			gsb.WithPredicate(gsb.RequireAuth),
			gsb.WithHelp("scripted command", name),
		); err != nil {
			return fmt.Errorf("registering script command %s: %w", name, err)
		}
		count++
	}

	logger.Info("command scripts loaded", zap.String("dir", dir), zap.Int("count", count))
	return nil
}

// game binds the world and account store to command handlers.
type game struct {
	world    *World
	accounts *Accounts
	logger   *zap.Logger
}

func (g *game) name(c *gsb.Caller) string {
	if c.Session == nil {
		return "someone"
	}
	return c.Session.GetString(nameKey)
}

// lookAt sends the room rendering line by line, with a styled title.
func (g *game) lookAt(c *gsb.Caller, roomID string) {
	lines := strings.Split(g.world.Look(roomID), "\n")
	c.Notify("%s", telnet.Colorize(telnet.Cyan, lines[0]))
	for _, line := range lines[1:] {
		c.Notify("%s", line)
	}
}

// move walks the session through an exit, announcing to both rooms.
func (g *game) move(c *gsb.Caller, dir string) error {
	here, ok := g.world.Get(c.Session.Room())
	if !ok {
		c.Notify("You are nowhere at all.")
		return nil
	}
	dest, ok := here.Exits[dir]
	if !ok {
		c.Notify("You cannot go %s from here.", dir)
		return nil
	}

	who := g.name(c)
	c.Server().Broadcast(fmt.Sprintf("%s leaves %s.", who, dir),
		gsb.ToRoom(here.ID), gsb.Except(c.Conn))
	c.Session.SetRoom(dest)
	c.Server().Broadcast(fmt.Sprintf("%s arrives.", who),
		gsb.ToRoom(dest), gsb.Except(c.Conn))
	g.lookAt(c, dest)
	return nil
}

func (g *game) registerCommands(srv *gsb.Server) {
	router := srv.Router()
	auth := gsb.WithPredicate(gsb.RequireAuth)

	router.MustRegister("look", func(c *gsb.Caller) error {
		g.lookAt(c, c.Session.Room())
		return nil
	}, auth, gsb.WithAliases("l"), gsb.WithHelp("look at your surroundings", "look"))

	router.MustRegister("go", func(c *gsb.Caller) error {
		dir := strings.TrimSpace(c.Args)
		if dir == "" {
			c.Notify("Go where?")
			return nil
		}
		return g.move(c, dir)
	}, auth, gsb.WithHelp("move through an exit", "go <direction>"))

	for _, dir := range []string{"north", "south", "east", "west", "up", "down"} {
		dir := dir
		router.MustRegister(dir, func(c *gsb.Caller) error {
			return g.move(c, dir)
		}, auth, gsb.WithAliases(dir[:1]))
	}

	router.MustRegister("say", func(c *gsb.Caller) error {
		if c.Args == "" {
			c.Notify("Say what?")
			return nil
		}
		c.Server().Broadcast(fmt.Sprintf("%s says: %s", g.name(c), c.Args),
			gsb.ToRoom(c.Session.Room()))
		return nil
	}, auth, gsb.WithHelp("talk to the room", "say <message>"))

	router.MustRegister("shout", func(c *gsb.Caller) error {
		if c.Args == "" {
			c.Notify("Shout what?")
			return nil
		}
		c.Server().Broadcast(telnet.Colorf(telnet.Yellow, "%s shouts: %s", g.name(c), c.Args))
		return nil
	}, auth, gsb.WithHelp("talk to the whole world", "shout <message>"))

	router.MustRegister("who", func(c *gsb.Caller) error {
		names := make([]string, 0)
		for _, conn := range c.Server().Connections() {
			sess := conn.Session()
			if sess == nil || !sess.Authenticated() {
				continue
			}
			names = append(names, fmt.Sprintf("%s (%s)", sess.GetString(nameKey), sess.Room()))
		}
		c.Notify("%d online: %s", len(names), strings.Join(names, ", "))
		return nil
	}, auth, gsb.WithHelp("list who is online", "who"))

	router.MustRegister("dig", func(c *gsb.Caller) error {
		fields := strings.Fields(c.Args)
		if len(fields) < 3 {
			c.Notify("Usage: dig <direction> <id> <title...>")
			return nil
		}
		dir, id := fields[0], fields[1]
		title := strings.Join(fields[2:], " ")
		room, err := g.world.Dig(c.Session.Room(), dir, id, title)
		if err != nil {
			c.Notify("%s", err.Error())
			return nil
		}
		c.Notify("You dig %s to %s.", dir, room.Title)
		return nil
	}, auth, gsb.WithHelp("create a new room", "dig <direction> <id> <title...>"))

	router.MustRegister("describe", func(c *gsb.Caller) error {
		roomID := c.Session.Room()
		reader := &intercept.Reader{
			Prompt:    "Enter the room description. Finish with '.' on its own line.",
			Multiline: true,
			Done: func(c *gsb.Caller, text string) {
				if err := g.world.SetDescription(roomID, text); err != nil {
					c.Notify("%s", err.Error())
					return
				}
				c.Notify("Description set.")
			},
		}
		c.Conn.SetDispatcher(reader)
		return nil
	}, auth, gsb.WithHelp("rewrite this room's description", "describe"))

	router.MustRegister("teleport", func(c *gsb.Caller) error {
		menu := intercept.NewMenu("Teleport where?")
		menu.Persistent = true
		for _, id := range g.world.IDs() {
			room, _ := g.world.Get(id)
			dest := id
			menu.Add(room.Title, func(c *gsb.Caller) {
				c.Session.SetRoom(dest)
				g.lookAt(c, dest)
			})
		}
		c.Conn.SetDispatcher(menu)
		return nil
	}, auth, gsb.WithHelp("jump to any room", "teleport"))

	router.MustRegister("help", func(c *gsb.Caller) error {
		for _, route := range c.Server().Router().Routes() {
			if route.Description == "" {
				continue
			}
			c.Notify("%-10s %s", route.Name, route.Description)
		}
		return nil
	}, gsb.WithHelp("show this help", "help"))

	router.MustRegister("quit", func(c *gsb.Caller) error {
		c.Notify("Goodbye!")
		return c.Conn.Close()
	}, gsb.WithHelp("disconnect", "quit"))

	must(router.Substitute('\'', "say"))
	must(router.Substitute('!', "shout"))
}

func (g *game) registerHooks(srv *gsb.Server) {
	hooks := srv.Hooks()

	hooks.MustOn(gsb.EventConnect, func(c *gsb.Caller) error {
		// Suppress go-ahead before the first line of text.
		if _, err := c.Conn.Write(telnet.Negotiation); err != nil {
			return err
		}
		c.Notify("%s", telnet.Colorize(telnet.Bold, "Welcome to mudlite."))
		g.askName(c)
		return nil
	})

	hooks.MustOn(gsb.EventDisconnect, func(c *gsb.Caller) error {
		if c.Session == nil || !c.Session.Authenticated() {
			return nil
		}
		c.Server().Broadcast(fmt.Sprintf("%s fades away.", g.name(c)), gsb.Except(c.Conn))
		return nil
	})

	hooks.MustOn(gsb.EventUnhandledCommand, func(c *gsb.Caller) error {
		c.Notify("Unknown command %q. Type 'help' for commands.", c.Verb)
		return nil
	})

	hooks.MustOn(gsb.EventError, func(c *gsb.Caller) error {
		g.logger.Warn("connection error", zap.Error(c.Err))
		c.Notify("Something went wrong handling that.")
		return nil
	})
}

// askName starts the login conversation on a fresh connection.
func (g *game) askName(c *gsb.Caller) {
	reader := intercept.NewReader("Account name?", func(c *gsb.Caller, text string) {
		name := strings.TrimSpace(text)
		if name == "" {
			g.askName(c)
			return
		}
		if g.accounts.Exists(name) {
			g.askPassword(c, name)
		} else {
			g.askNewPassword(c, name)
		}
	})
	c.Conn.SetDispatcher(reader)
}

func (g *game) askPassword(c *gsb.Caller, name string) {
	reader := intercept.NewReader("Password?", func(c *gsb.Caller, text string) {
		if err := g.accounts.Verify(name, text); err != nil {
			c.Notify("%s", err.Error())
			g.askName(c)
			return
		}
		g.enterWorld(c, name)
	})
	c.Conn.SetDispatcher(reader)
}

func (g *game) askNewPassword(c *gsb.Caller, name string) {
	prompt := fmt.Sprintf("No account named %q. Choose a password to create it.", name)
	reader := intercept.NewReader(prompt, func(c *gsb.Caller, text string) {
		if len(text) < 4 {
			c.Notify("Passwords need at least 4 characters.")
			g.askName(c)
			return
		}
		if err := g.accounts.Create(name, text); err != nil {
			g.logger.Error("creating account", zap.String("name", name), zap.Error(err))
			c.Notify("Could not create the account. Try again.")
			g.askName(c)
			return
		}
		g.enterWorld(c, name)
	})
	c.Conn.SetDispatcher(reader)
}

// enterWorld marks the session authenticated and drops it into the start room.
func (g *game) enterWorld(c *gsb.Caller, name string) {
	c.Session.Set(nameKey, name)
	c.Session.SetAuthenticated(true)
	c.Session.SetRoom(g.world.Start())

	g.logger.Info("player entered",
		zap.String("name", name),
		zap.String("conn_id", c.Conn.ID().String()),
	)

	c.Server().Broadcast(fmt.Sprintf("%s enters the world.", name), gsb.Except(c.Conn))
	c.Notify("Welcome, %s. Type 'help' for commands.", name)
	g.lookAt(c, g.world.Start())
}

func must(err error) {
	if err != nil {
		log.Fatalf("registering substitution: %v", err)
	}
}
