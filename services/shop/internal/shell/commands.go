package shell

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"storefront/pkg/domain"
	"storefront/pkg/money"
	"storefront/pkg/validation"
	"storefront/services/shop/internal/apiclient"
	"storefront/services/shop/internal/cart"
	"storefront/services/shop/internal/checkout"
	"storefront/services/shop/internal/nav"
	"storefront/services/shop/internal/session"
)

const (
	emailTakenMessage = "Email sudah terdaftar. Silakan gunakan email lain atau login dengan email tersebut."
	registeredMessage = "Registration successful! Please sign in with your new account."
)

type command struct {
	usage string
	auth  bool
	run   func(s *Shell, ctx context.Context, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"help":         {usage: "help", run: (*Shell).cmdHelp},
		"goto":         {usage: "goto <route>", run: (*Shell).cmdGoto},
		"login":        {usage: "login <email> <password>", run: (*Shell).cmdLogin},
		"register":     {usage: "register <email> <password> <name>", run: (*Shell).cmdRegister},
		"logout":       {usage: "logout", run: (*Shell).cmdLogout},
		"whoami":       {usage: "whoami", auth: true, run: (*Shell).cmdWhoami},
		"profile":      {usage: "profile name=<name> email=<email>", auth: true, run: (*Shell).cmdProfile},
		"products":     {usage: "products [search]", auth: true, run: (*Shell).cmdProducts},
		"refresh":      {usage: "refresh", auth: true, run: (*Shell).cmdRefresh},
		"add":          {usage: "add <product-id>", auth: true, run: (*Shell).cmdAdd},
		"set":          {usage: "set <product-id> <quantity>", auth: true, run: (*Shell).cmdSet},
		"remove":       {usage: "remove <product-id>", auth: true, run: (*Shell).cmdRemove},
		"cart":         {usage: "cart", auth: true, run: (*Shell).cmdCart},
		"checkout":     {usage: "checkout", auth: true, run: (*Shell).cmdCheckout},
		"quick":        {usage: "quick <product-id> <quantity>", auth: true, run: (*Shell).cmdQuick},
		"orders":       {usage: "orders", auth: true, run: (*Shell).cmdOrders},
		"order":        {usage: "order <id>", auth: true, run: (*Shell).cmdOrder},
		"cancel-order": {usage: "cancel-order <id>", auth: true, run: (*Shell).cmdCancelOrder},
		"delete-order": {usage: "delete-order <id>", auth: true, run: (*Shell).cmdDeleteOrder},
	}
}

var errUsage = errors.New("usage")

// exec runs one input line under the current page's context and reports
// whether the shell should stop.
func (s *Shell) exec(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	name, args := strings.ToLower(fields[0]), fields[1:]
	if name == "quit" || name == "exit" {
		return true
	}
	cmd, ok := commands[name]
	if !ok {
		s.printf("Unknown command %q. Type 'help'.\n", name)
		return false
	}
	if cmd.auth && s.app.Session().Status() != session.Authenticated {
		s.printf("Please sign in first.\n")
		s.navigate(nav.Login)
		return false
	}
	ctx := s.viewContext()
	if err := cmd.run(s, ctx, args); err != nil {
		if ctx.Err() != nil && !errors.Is(err, errUsage) {
			s.logger.Debug("command interrupted by navigation", "command", name, "err", err)
			return false
		}
		if errors.Is(err, errUsage) {
			s.printf("Usage: %s\n", cmd.usage)
		} else {
			s.printf("Error: %s\n", err.Error())
		}
	}
	return false
}

func (s *Shell) cmdHelp(_ context.Context, _ []string) error {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s.printf("  %s\n", commands[name].usage)
	}
	s.printf("  quit\n")
	return nil
}

func (s *Shell) cmdGoto(_ context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	if !nav.Known(args[0]) {
		s.printf("No such page %s.\n", args[0])
	}
	s.navigate(args[0])
	return nil
}

func (s *Shell) cmdLogin(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	form := validation.LoginForm{Email: args[0], Password: args[1]}
	if err := validation.Validate(form); err != nil {
		return fieldError(err)
	}
	user, err := s.app.Session().Login(ctx, domain.LoginCredentials{Email: form.Email, Password: form.Password})
	switch {
	case errors.Is(err, session.ErrTooManyAttempts):
		return errors.New("too many login attempts, try again in a minute")
	case err != nil:
		return errors.New(apiclient.Message(err, "Login failed"))
	}
	s.printf("Welcome, %s.\n", user.Name)
	return nil
}

func (s *Shell) cmdRegister(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return errUsage
	}
	form := validation.RegisterForm{Email: args[0], Password: args[1], Name: strings.Join(args[2:], " ")}
	if err := validation.Validate(form); err != nil {
		return fieldError(err)
	}
	_, err := s.app.Session().Register(ctx, domain.RegisterCredentials{Email: form.Email, Password: form.Password, Name: form.Name})
	switch {
	case errors.Is(err, session.ErrEmailTaken):
		return errors.New(emailTakenMessage)
	case err != nil:
		return errors.New(apiclient.Message(err, "Registration failed"))
	}
	s.printf("%s\n", registeredMessage)
	s.scheduleRedirect(nav.Login, s.registerDelay)
	return nil
}

func (s *Shell) cmdLogout(ctx context.Context, _ []string) error {
	if err := s.app.Session().Logout(ctx); err != nil {
		return err
	}
	s.printf("Signed out.\n")
	if s.Route() != nav.Login {
		s.navigate(nav.Login)
	}
	return nil
}

func (s *Shell) cmdWhoami(ctx context.Context, _ []string) error {
	user, err := s.app.Session().RefreshProfile(ctx)
	if errors.Is(err, session.ErrSessionExpired) {
		return errors.New("your session has expired, please sign in again")
	}
	if err != nil {
		return errors.New(apiclient.Message(err, "Failed to load profile"))
	}
	s.printf("%s <%s> (#%d)\n", user.Name, user.Email, user.ID)
	return nil
}

func (s *Shell) cmdProfile(ctx context.Context, args []string) error {
	var update domain.ProfileUpdate
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return errUsage
		}
		switch key {
		case "name":
			update.Name = value
		case "email":
			update.Email = value
		default:
			return errUsage
		}
	}
	if update.Name == "" && update.Email == "" {
		return errUsage
	}
	user, err := s.app.Session().UpdateProfile(ctx, update)
	if errors.Is(err, session.ErrSessionExpired) {
		return errors.New("your session has expired, please sign in again")
	}
	if err != nil {
		return errors.New(apiclient.Message(err, "Failed to update profile"))
	}
	s.printf("Profile updated: %s <%s>\n", user.Name, user.Email)
	return nil
}

func (s *Shell) cmdProducts(_ context.Context, args []string) error {
	if s.Route() != nav.Products {
		s.navigate(nav.Products)
		if len(args) == 0 {
			return nil
		}
	}
	snap := s.app.Catalog().Snapshot()
	s.printProducts(s.app.Catalog().Search(strings.Join(args, " ")), snap.Error)
	return nil
}

func (s *Shell) cmdRefresh(ctx context.Context, _ []string) error {
	err := s.app.Warm(ctx)
	s.printf("Catalog: %d products, order history: %d orders.\n",
		len(s.app.Catalog().Products()), len(s.app.Orders().Orders()))
	if err != nil {
		return errors.New(apiclient.Message(err, "Refresh failed"))
	}
	return nil
}

func (s *Shell) cmdAdd(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	product, err := s.app.Catalog().Lookup(ctx, id)
	if apiclient.IsNotFound(err) {
		return fmt.Errorf("product %d is not in the catalog", id)
	} else if err != nil {
		return errors.New(apiclient.Message(err, "Failed to fetch product"))
	}
	if err := s.app.Cart().Add(product); errors.Is(err, cart.ErrOutOfStock) {
		return fmt.Errorf("%s is out of stock", product.Name)
	} else if err != nil {
		return err
	}
	line, _ := s.app.Cart().Line(id)
	s.printf("%s x%d in cart (%d items).\n", product.Name, line.Quantity, s.app.Cart().ItemCount())
	return nil
}

func (s *Shell) cmdSet(_ context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	quantity, err := strconv.Atoi(args[1])
	if err != nil {
		return errUsage
	}
	if _, ok := s.app.Cart().Line(id); !ok {
		return cart.ErrUnknownProduct
	}
	s.app.Cart().SetQuantity(id, quantity)
	if line, ok := s.app.Cart().Line(id); ok {
		s.printf("%s x%d\n", line.Product.Name, line.Quantity)
	} else {
		s.printf("Removed.\n")
	}
	return nil
}

func (s *Shell) cmdRemove(_ context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if _, ok := s.app.Cart().Line(id); !ok {
		return cart.ErrUnknownProduct
	}
	s.app.Cart().Remove(id)
	s.printf("Removed.\n")
	return nil
}

func (s *Shell) cmdCart(_ context.Context, _ []string) error {
	s.printCart()
	return nil
}

func (s *Shell) cmdCheckout(ctx context.Context, _ []string) error {
	if s.Route() != nav.NewOrder {
		s.navigate(nav.NewOrder)
	}
	if s.app.Cart().Len() == 0 {
		return errors.New("your cart is empty")
	}
	// Outcomes are reported through the checkout listener.
	if _, err := s.app.Checkout().CheckoutCart(ctx); errors.Is(err, checkout.ErrInProgress) {
		return err
	}
	return nil
}

func (s *Shell) cmdQuick(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	quantity, err := strconv.Atoi(args[1])
	if err != nil {
		return errUsage
	}
	if err := validation.Validate(validation.QuickOrderForm{Quantity: quantity}); err != nil {
		return fieldError(err)
	}
	product, ok := s.app.Catalog().Product(id)
	if !ok {
		return fmt.Errorf("product %d is not in the catalog", id)
	}
	if estimate, err := checkout.Estimate(product, quantity); err == nil {
		s.printf("%s x%d, estimated %s\n", product.Name, quantity, money.FormatIDR(estimate))
	}
	if _, err := s.app.Checkout().QuickOrder(ctx, product, quantity); errors.Is(err, checkout.ErrInProgress) {
		return err
	}
	return nil
}

func (s *Shell) cmdOrders(_ context.Context, _ []string) error {
	s.navigate(nav.Orders)
	return nil
}

func (s *Shell) cmdOrder(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	order, err := s.app.Orders().Get(ctx, id)
	if err != nil {
		return errors.New(apiclient.Message(err, "Failed to fetch order"))
	}
	s.printOrder(order)
	for _, item := range order.Items {
		s.printf("    %-24s x%-3d %s\n", item.ProductName, item.Quantity, money.FormatPrice(item.Price))
	}
	return nil
}

func (s *Shell) cmdCancelOrder(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := s.app.Orders().UpdateStatus(ctx, id, domain.OrderCancelled); err != nil {
		return errors.New(apiclient.Message(err, "Failed to update order"))
	}
	s.printf("Order #%d %s.\n", id, statusLabel(domain.OrderCancelled))
	return nil
}

func (s *Shell) cmdDeleteOrder(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := s.app.Orders().Delete(ctx, id); err != nil {
		return errors.New(apiclient.Message(err, "Failed to delete order"))
	}
	s.printf("Order #%d deleted.\n", id)
	return nil
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

// fieldError flattens validation errors into one line.
func fieldError(err error) error {
	if fe, ok := validation.AsErrors(err); ok {
		return errors.New(fe.Error())
	}
	return err
}
